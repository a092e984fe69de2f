package ingest

import (
	"context"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
)

// FTPOptions configures the FTP downloader.
type FTPOptions struct {
	// Timeout bounds dial and control-channel operations. Default: 60s.
	Timeout time.Duration

	// User and Password default to anonymous access, which is what public
	// patent office FTP servers expect.
	User     string
	Password string
}

// FTPFetcher downloads corpus files from FTP servers. Patent offices still
// publish bulk archives this way.
type FTPFetcher struct {
	opts FTPOptions
}

// NewFTPFetcher creates a fetcher with anonymous-login defaults.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.User == "" {
		opts.User = "anonymous"
		opts.Password = "anonymous@"
	}
	return &FTPFetcher{opts: opts}
}

// Download retrieves the file behind an ftp:// URL. The returned reader owns
// the control connection; closing it ends the transfer and the session.
func (f *FTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	host, path, err := parseFTPURL(rawURL)
	if err != nil {
		return nil, err
	}

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: dial ftp host %s", host)
	}
	if err := conn.Login(f.opts.User, f.opts.Password); err != nil {
		conn.Quit()
		return nil, eris.Wrapf(err, "ingest: ftp login to %s", host)
	}

	resp, err := conn.Retr(path)
	if err != nil {
		conn.Quit()
		return nil, eris.Wrapf(err, "ingest: retrieve %s from %s", path, host)
	}
	return &ftpReader{resp: resp, conn: conn}, nil
}

// parseFTPURL splits an ftp:// URL into a dialable host:port and a remote
// path, defaulting to port 21.
func parseFTPURL(rawURL string) (host, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrapf(err, "ingest: parse ftp url %s", rawURL)
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("ingest: not an ftp url: %s", rawURL)
	}
	if u.User != nil {
		// Deliberately not echoing the URL: it holds the password, and
		// source URLs end up in logs. Credentials belong in FTPOptions.
		return "", "", eris.New("ingest: credentials in ftp urls are not supported, configure them instead")
	}
	if u.Path == "" || u.Path == "/" {
		return "", "", eris.Errorf("ingest: ftp url has no file path: %s", rawURL)
	}
	host = u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "21")
	}
	return host, u.Path, nil
}

// ftpReader ties the session's lifetime to the data reader.
type ftpReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpReader) Close() error {
	err := r.resp.Close()
	if qerr := r.conn.Quit(); err == nil {
		err = qerr
	}
	return err
}
