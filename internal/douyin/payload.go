package douyin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const payloadSentinel = `{"app":`

var markerPattern = regexp.MustCompile(`window\._ROUTER_DATA\s*=\s*`)

// routerData is a narrow view of the embedded payload. Only the fields the
// projection reads are modeled; everything else is ignored.
type routerData struct {
	LoaderData loaderMap `json:"loaderData"`
}

// loaderEntry is one page loader keyed by its route id.
type loaderEntry struct {
	Key  string
	Page pageData
}

// loaderMap keeps loader entries in document order.
type loaderMap []loaderEntry

type pageData struct {
	VideoInfoRes *videoInfoRes `json:"videoInfoRes"`
}

type videoInfoRes struct {
	ItemList []item `json:"item_list"`
}

type item struct {
	Desc  string `json:"desc"`
	Video struct {
		PlayAddr struct {
			URLList []string `json:"url_list"`
		} `json:"play_addr"`
	} `json:"video"`
}

// UnmarshalJSON walks the object token by token so entry order survives.
// Entries of an unexpected shape (null, arrays, mistyped fields) are skipped.
func (m *loaderMap) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*m = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("loaderData: expected object, got %v", tok)
	}

	var entries loaderMap
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}

		var page pageData
		if err := json.Unmarshal(raw, &page); err != nil {
			continue
		}
		entries = append(entries, loaderEntry{Key: key, Page: page})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*m = entries
	return nil
}

// findPayload returns the script text following the _ROUTER_DATA assignment.
func findPayload(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPayloadNotFound, err)
	}

	var payload string
	found := false
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		loc := markerPattern.FindStringIndex(text)
		if loc == nil {
			return true
		}
		payload = text[loc[1]:]
		found = true
		return false
	})

	if !found {
		return "", ErrPayloadNotFound
	}
	return payload, nil
}

// parsePayload trims leading junk up to the {"app": sentinel and decodes the
// router data. A trailing statement terminator is allowed.
func parsePayload(captured string) (*routerData, error) {
	if i := strings.Index(captured, payloadSentinel); i >= 0 {
		captured = captured[i:]
	}
	captured = strings.TrimRight(captured, " \t\r\n;")

	var data routerData
	if err := json.Unmarshal([]byte(captured), &data); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPayloadParse, err.Error())
	}
	return &data, nil
}

// firstItem selects the first loader entry with a non-empty item list and
// returns its first item.
func (d *routerData) firstItem() (*item, error) {
	for _, e := range d.LoaderData {
		if e.Page.VideoInfoRes != nil && len(e.Page.VideoInfoRes.ItemList) > 0 {
			return &e.Page.VideoInfoRes.ItemList[0], nil
		}
	}
	return nil, ErrNoVideoInfo
}

func (it *item) playURL() (string, error) {
	urls := it.Video.PlayAddr.URLList
	if len(urls) == 0 || urls[0] == "" {
		return "", ErrNoPlayURL
	}
	return urls[0], nil
}
