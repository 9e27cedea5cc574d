// Package nvd keeps a local cache of the NVD vulnerability feed and hands
// out immutable keyword indexes built from it.
package nvd

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"

	"github.com/lanaudit/lanaudit/internal/match"
	"github.com/lanaudit/lanaudit/internal/model"
)

// feedFile mirrors the slice of the NVD JSON 1.1 schema the scanner needs:
// identifier, free text description and the optional CVSS v3 base score.
type feedFile struct {
	CVEItems []feedItem `json:"CVE_Items"`
}

type feedItem struct {
	CVE struct {
		Meta struct {
			ID string `json:"ID"`
		} `json:"CVE_data_meta"`
		Description struct {
			Data []struct {
				Lang  string `json:"lang"`
				Value string `json:"value"`
			} `json:"description_data"`
		} `json:"description"`
	} `json:"cve"`
	Impact struct {
		BaseMetricV3 struct {
			CVSSV3 struct {
				BaseScore float64 `json:"baseScore"`
			} `json:"cvssV3"`
		} `json:"baseMetricV3"`
	} `json:"impact"`
}

// DecodeFeed decompresses and parses one gzip compressed feed file.
// Items without an identifier or description are skipped; a feed yielding
// no usable entries at all is reported as model.ErrCorruptFeed.
func DecodeFeed(r io.Reader) ([]match.Entry, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrCorruptFeed, err)
	}
	defer func() {
		_ = gz.Close()
	}()

	var feed feedFile
	if err := json.NewDecoder(gz).Decode(&feed); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrCorruptFeed, err)
	}

	entries := make([]match.Entry, 0, len(feed.CVEItems))
	for _, item := range feed.CVEItems {
		id := item.CVE.Meta.ID
		desc := description(item)
		if id == "" || desc == "" {
			continue
		}
		entries = append(entries, match.Entry{
			ID:          id,
			Description: desc,
			Score:       item.Impact.BaseMetricV3.CVSSV3.BaseScore,
		})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no usable entries", model.ErrCorruptFeed)
	}
	return entries, nil
}

// description prefers the English text, otherwise takes the first one.
func description(item feedItem) string {
	data := item.CVE.Description.Data
	for _, d := range data {
		if d.Lang == "en" {
			return d.Value
		}
	}
	if len(data) > 0 {
		return data[0].Value
	}
	return ""
}
