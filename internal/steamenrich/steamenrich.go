// Package steamenrich implements the optional, best-effort metadata
// enrichment the Job Runner's finalize stage runs when a published
// game is flagged isSteamGame+getSteamData. Ported from the original
// pipeline's server/final.py: search the storefront, pick the closest
// matching app by name, then save its details and header/screenshot
// images alongside the published game. A failure here never fails the
// publish job — enrichment is cosmetic.
package steamenrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	searchURL  = "https://store.steampowered.com/api/storesearch/"
	detailsURL = "https://store.steampowered.com/api/appdetails"
)

// Enricher is injected into the Job Runner's finalize stage so it can
// be stubbed out in tests and swapped for a no-op where outbound
// network access isn't desired.
type Enricher interface {
	Enrich(ctx context.Context, gameName, destDir string) error
}

// SteamEnricher is the real, network-backed Enricher.
type SteamEnricher struct {
	HTTPClient *http.Client
}

func New() *SteamEnricher {
	return &SteamEnricher{HTTPClient: http.DefaultClient}
}

type searchItem struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type appDetailsEnvelope map[string]struct {
	Data json.RawMessage `json:"data"`
}

// Enrich searches the storefront for gameName, picks the best match,
// and writes appdetails.json plus header/background/screenshot images
// under destDir. A no-op (nil error) if nothing matches.
func (e *SteamEnricher) Enrich(ctx context.Context, gameName, destDir string) error {
	items, err := e.searchGames(ctx, gameName)
	if err != nil {
		return err
	}
	match := pickBestMatch(gameName, items)
	if match == nil {
		return nil
	}

	data, err := e.getAppDetails(ctx, match.ID)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(destDir, "appdetails.json"), data, 0644); err != nil {
		return err
	}
	return e.downloadImages(ctx, data, destDir)
}

func (e *SteamEnricher) searchGames(ctx context.Context, query string) ([]searchItem, error) {
	u := searchURL + "?" + url.Values{"term": {query}, "l": {"english"}, "cc": {"us"}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Items []searchItem `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Items, nil
}

func (e *SteamEnricher) getAppDetails(ctx context.Context, appID int) ([]byte, error) {
	u := detailsURL + "?" + url.Values{"appids": {strconv.Itoa(appID)}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var envelope appDetailsEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, err
	}
	entry, ok := envelope[strconv.Itoa(appID)]
	if !ok {
		return nil, fmt.Errorf("steam app %d not present in details response", appID)
	}
	return entry.Data, nil
}

func (e *SteamEnricher) downloadImages(ctx context.Context, data []byte, destDir string) error {
	var parsed struct {
		HeaderImage string `json:"header_image"`
		Background  string `json:"background"`
		Screenshots []struct {
			PathFull string `json:"path_full"`
		} `json:"screenshots"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return err
	}

	imgDir := filepath.Join(destDir, "images")
	if err := os.MkdirAll(imgDir, 0755); err != nil {
		return err
	}

	core := map[string]string{"header.jpg": parsed.HeaderImage, "background.jpg": parsed.Background}
	for name, u := range core {
		if u == "" {
			continue
		}
		if err := e.downloadOne(ctx, u, filepath.Join(imgDir, name)); err != nil {
			return err
		}
	}
	for i, s := range parsed.Screenshots {
		name := fmt.Sprintf("screenshot_%d.jpg", i)
		if err := e.downloadOne(ctx, s.PathFull, filepath.Join(imgDir, name)); err != nil {
			return err
		}
	}
	return nil
}

func (e *SteamEnricher) downloadOne(ctx context.Context, u, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = copyBody(f, resp)
	return err
}

func copyBody(dst *os.File, resp *http.Response) (int64, error) {
	return dst.ReadFrom(resp.Body)
}

var nonAlnumSpace = regexp.MustCompile(`[^a-z0-9 ]`)

func normalize(text string) string {
	return strings.TrimSpace(nonAlnumSpace.ReplaceAllString(strings.ToLower(text), ""))
}

// pickBestMatch mirrors the original three-tier selection: exact
// normalized match, then strict token match, then a similarity-ratio
// fallback over every "app" typed candidate.
func pickBestMatch(query string, items []searchItem) *searchItem {
	qNorm := normalize(query)

	var candidates []searchItem
	for _, it := range items {
		if it.Type == "app" {
			candidates = append(candidates, it)
		}
	}

	for i := range candidates {
		if normalize(candidates[i].Name) == qNorm {
			return &candidates[i]
		}
	}

	qTokens := strings.Fields(qNorm)
	for i := range candidates {
		if strings.Join(strings.Fields(normalize(candidates[i].Name)), " ") == strings.Join(qTokens, " ") &&
			len(strings.Fields(normalize(candidates[i].Name))) == len(qTokens) {
			return &candidates[i]
		}
	}

	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return similarity(qNorm, normalize(candidates[i].Name)) > similarity(qNorm, normalize(candidates[j].Name))
	})
	return &candidates[0]
}

// similarity approximates Python's difflib.SequenceMatcher.ratio():
// 2*M/T where M is the total length of matching blocks found greedily
// by longest-common-substring extraction, and T is the combined length
// of both strings.
func similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	m := matchingLength(a, b)
	return 2 * float64(m) / float64(len(a)+len(b))
}

func matchingLength(a, b string) int {
	if a == "" || b == "" {
		return 0
	}
	start1, start2, length := longestCommonSubstring(a, b)
	if length == 0 {
		return 0
	}
	total := length
	total += matchingLength(a[:start1], b[:start2])
	total += matchingLength(a[start1+length:], b[start2+length:])
	return total
}

func longestCommonSubstring(a, b string) (startA, startB, length int) {
	dp := make([][]int, len(a)+1)
	for i := range dp {
		dp[i] = make([]int, len(b)+1)
	}
	var best, bestA, bestB int
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
				if dp[i][j] > best {
					best = dp[i][j]
					bestA = i - best
					bestB = j - best
				}
			}
		}
	}
	return bestA, bestB, best
}
