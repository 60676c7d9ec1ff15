package usage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/chainpulse/console/internal/apperr"
	domain "github.com/chainpulse/console/internal/app/domain/usage"
)

// HTTPCollector queries a metrics backend over HTTP. The backend returns a
// JSON body with a "samples" array; only the fields the dashboard renders
// are read, so backends may attach whatever else they like.
type HTTPCollector struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPCollector(baseURL, apiKey string, client *http.Client) *HTTPCollector {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPCollector{baseURL: baseURL, apiKey: apiKey, client: client}
}

func (c *HTTPCollector) FetchSamples(ctx context.Context, userID string, from, to time.Time) ([]domain.Sample, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/samples?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.WrapServiceError("usage", "collector", fmt.Errorf("metrics backend returned %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var samples []domain.Sample
	gjson.GetBytes(body, "samples").ForEach(func(_, item gjson.Result) bool {
		ts, err := time.Parse(time.RFC3339, item.Get("timestamp").String())
		if err != nil {
			return true
		}
		samples = append(samples, domain.Sample{
			Timestamp:  ts,
			Endpoint:   item.Get("endpoint").String(),
			StatusCode: int(item.Get("status_code").Int()),
			Count:      item.Get("count").Int(),
			LatencyMS:  item.Get("latency_ms").Float(),
		})
		return true
	})
	return samples, nil
}

// StaticCollector serves fixed samples, for development environments with no
// metrics backend and for tests.
type StaticCollector struct {
	Samples map[string][]domain.Sample
}

func (c *StaticCollector) FetchSamples(_ context.Context, userID string, from, to time.Time) ([]domain.Sample, error) {
	var out []domain.Sample
	for _, sm := range c.Samples[userID] {
		if !sm.Timestamp.Before(from) && sm.Timestamp.Before(to) {
			out = append(out, sm)
		}
	}
	return out, nil
}
