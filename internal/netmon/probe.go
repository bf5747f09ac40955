package netmon

import (
	"context"
	"fmt"
	"net/http"
)

// HTTPProbe builds a ProbeFunc that issues a HEAD request against url.
// Any HTTP response counts as reachable, including error statuses; the
// probe measures connectivity, not API health.
func HTTPProbe(url string) ProbeFunc {
	client := &http.Client{}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return fmt.Errorf("build probe request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("probe %s: %w", url, err)
		}
		_ = resp.Body.Close()
		return nil
	}
}
