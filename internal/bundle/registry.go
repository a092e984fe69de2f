package bundle

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lattice-ip/priorart-engine/internal/model"
	"github.com/lattice-ip/priorart-engine/pkg/notion"
)

// LoadRegistry queries the Notion bundle registry for approved bundles and
// returns them ready to run. Malformed registry pages are skipped with a
// warning; an unreachable registry is an error.
func LoadRegistry(ctx context.Context, client notion.Client, dbID string) ([]Bundle, error) {
	filter := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "Status",
			Status: &notionapi.StatusFilterCondition{
				Equals: "Approved",
			},
		},
	}

	pages, err := notion.QueryAll(ctx, client, dbID, filter)
	if err != nil {
		return nil, eris.Wrap(err, "bundle: load registry")
	}

	var bundles []Bundle
	for _, p := range pages {
		b, err := parseBundlePage(p)
		if err != nil {
			zap.L().Warn("bundle: skipping malformed registry page",
				zap.String("page_id", string(p.ID)),
				zap.Error(err),
			)
			continue
		}
		bundles = append(bundles, *b)
	}

	return bundles, nil
}

func parseBundlePage(p notionapi.Page) (*Bundle, error) {
	b := &Bundle{
		ID: string(p.ID),
	}

	// Name (title)
	if prop, ok := p.Properties["Name"]; ok {
		if tp, ok := prop.(*notionapi.TitleProperty); ok {
			b.Title = plainText(tp.Title)
		}
	}

	// Bundle ID (rich_text), page id when absent
	if prop, ok := p.Properties["Bundle ID"]; ok {
		if rtp, ok := prop.(*notionapi.RichTextProperty); ok {
			if id := plainText(rtp.RichText); id != "" {
				b.ID = id
			}
		}
	}

	// Result Count (number), shared by all three variants
	count := 0
	if prop, ok := p.Properties["Result Count"]; ok {
		if np, ok := prop.(*notionapi.NumberProperty); ok {
			count = int(np.Number)
		}
	}

	// Broad / Baseline / Narrow queries (rich_text)
	queries := map[model.VariantLabel]string{
		model.VariantBroad:    "Broad Query",
		model.VariantBaseline: "Baseline Query",
		model.VariantNarrow:   "Narrow Query",
	}
	for _, label := range model.VariantLabels {
		propName := queries[label]
		prop, ok := p.Properties[propName]
		if !ok {
			return nil, eris.Errorf("missing %s property", propName)
		}
		rtp, ok := prop.(*notionapi.RichTextProperty)
		if !ok {
			return nil, eris.Errorf("%s is not rich text", propName)
		}
		b.Variants = append(b.Variants, Variant{
			Label: label,
			Query: plainText(rtp.RichText),
			Count: count,
		})
	}

	// CPC Hints (multi_select)
	if prop, ok := p.Properties["CPC Hints"]; ok {
		if msp, ok := prop.(*notionapi.MultiSelectProperty); ok {
			for _, opt := range msp.MultiSelect {
				b.Hints = append(b.Hints, opt.Name)
			}
		}
	}

	// Detail Fields (multi_select)
	if prop, ok := p.Properties["Detail Fields"]; ok {
		if msp, ok := prop.(*notionapi.MultiSelectProperty); ok {
			for _, opt := range msp.MultiSelect {
				b.DetailFields = append(b.DetailFields, opt.Name)
			}
		}
	}

	b.SetDefaults()
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// plainText concatenates the plain_text values from a slice of RichText.
func plainText(rts []notionapi.RichText) string {
	var s string
	for _, rt := range rts {
		s += rt.PlainText
	}
	return s
}
