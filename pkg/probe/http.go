package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Default endpoints for the HTTP identity probes. Every type accepts a
// baseUrl (or equivalent) override, which is also how tests point probes at
// local servers.
const (
	defaultOpenOpsBase   = "https://app.openops.com/api"
	defaultArcadeBase    = "https://api.arcade.dev"
	defaultFALBase       = "https://fal.run"
	defaultModelsLabBase = "https://modelslab.com"
	defaultGitHubBase    = "https://api.github.com"
)

// httpProbe performs a single authenticated request and treats any 2xx
// response as proof the credentials are live.
type httpProbe struct {
	method  string
	url     func(fields map[string]string) string
	headers func(fields map[string]string) map[string]string
}

func (p *httpProbe) Probe(ctx context.Context, fields map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, p.method, p.url(fields), nil)
	if err != nil {
		return fmt.Errorf("failed to build probe request: %w", err)
	}
	for k, v := range p.headers(fields) {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider unreachable: %w", err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("provider rejected the credentials (status %d)", resp.StatusCode)
	default:
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
}

func baseOrDefault(fields map[string]string, key, fallback string) string {
	if v := fields[key]; v != "" {
		return strings.TrimRight(v, "/")
	}
	return fallback
}

func newOpenOpsProber() Prober {
	return &httpProbe{
		method: http.MethodGet,
		url: func(fields map[string]string) string {
			return baseOrDefault(fields, "baseUrl", defaultOpenOpsBase) + "/v1/users/me"
		},
		headers: func(fields map[string]string) map[string]string {
			return map[string]string{"Authorization": "Bearer " + fields["apiKey"]}
		},
	}
}

func newArcadeProber() Prober {
	return &httpProbe{
		method: http.MethodGet,
		url: func(fields map[string]string) string {
			return baseOrDefault(fields, "baseUrl", defaultArcadeBase) + "/v1/health"
		},
		headers: func(fields map[string]string) map[string]string {
			return map[string]string{"Authorization": "Bearer " + fields["apiKey"]}
		},
	}
}

func newFALProber() Prober {
	return &httpProbe{
		method: http.MethodGet,
		url: func(fields map[string]string) string {
			return baseOrDefault(fields, "baseUrl", defaultFALBase) + "/health"
		},
		headers: func(fields map[string]string) map[string]string {
			return map[string]string{"Authorization": "Key " + fields["apiKey"]}
		},
	}
}

func newModelsLabProber() Prober {
	return &httpProbe{
		method: http.MethodGet,
		url: func(fields map[string]string) string {
			return baseOrDefault(fields, "baseUrl", defaultModelsLabBase) + "/api/v6/system/health"
		},
		headers: func(fields map[string]string) map[string]string {
			return map[string]string{"Authorization": "Bearer " + fields["apiKey"]}
		},
	}
}

func newGitHubProber() Prober {
	return &httpProbe{
		method: http.MethodGet,
		url: func(fields map[string]string) string {
			return baseOrDefault(fields, "baseUrl", defaultGitHubBase) + "/user"
		},
		headers: func(fields map[string]string) map[string]string {
			return map[string]string{
				"Authorization":        "Bearer " + fields["token"],
				"X-GitHub-Api-Version": "2022-11-28",
			}
		},
	}
}

func newSupabaseProber() Prober {
	return &httpProbe{
		method: http.MethodGet,
		url: func(fields map[string]string) string {
			return baseOrDefault(fields, "projectUrl", "") + "/rest/v1/"
		},
		headers: func(fields map[string]string) map[string]string {
			key := fields["serviceRoleKey"]
			return map[string]string{
				"apikey":        key,
				"Authorization": "Bearer " + key,
			}
		},
	}
}
