package screening

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/blnkfinance/vaultpay/internal/request"
	"github.com/blnkfinance/vaultpay/model"
	"github.com/pkg/errors"
)

type configurableScreener struct {
	config     ProviderConfig
	threshold  float64
	httpClient *http.Client
}

// NewConfigurableScreener returns a Screener calling the provider described by config.
func NewConfigurableScreener(config ProviderConfig, timeout time.Duration, threshold float64) Screener {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &configurableScreener{
		config:     config,
		threshold:  threshold,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *configurableScreener) Name() string {
	return p.config.Name
}

type screenRequest struct {
	Address string   `json:"address"`
	Chain   string   `json:"chain"`
	Checks  []string `json:"checks"`
}

func (p *configurableScreener) Screen(ctx context.Context, address string) (*model.ScreeningResult, error) {
	chain := p.config.Chain
	if chain == "" {
		chain = "solana"
	}
	checks := p.config.Checks
	if len(checks) == 0 {
		checks = []string{"sanctions", "risk", "mixer", "darknet"}
	}

	payload, err := request.ToJsonReq(screenRequest{Address: address, Chain: chain, Checks: checks})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal screening request")
	}

	url := strings.TrimRight(p.config.BaseURL, "/") + p.config.Endpoints.Screen
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create screening request")
	}
	p.addAuth(req)

	var data map[string]interface{}
	if _, err := request.Do(p.httpClient, req, &data); err != nil {
		return nil, errors.Wrapf(err, "screening provider %s", p.config.Name)
	}
	return p.parseResponse(address, data), nil
}

func (p *configurableScreener) addAuth(req *http.Request) {
	switch strings.ToLower(p.config.AuthType) {
	case "basic":
		req.Header.Set("Authorization", "Basic "+request.BasicAuth(p.config.APIKey, p.config.APISecret))
	case "header":
		header := p.config.AuthHeader
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, p.config.APIKey)
	default:
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}
}

func (p *configurableScreener) parseResponse(address string, data map[string]interface{}) *model.ScreeningResult {
	mapping := p.config.ResponseMapping

	score, _ := getNestedValue(data, mapping.RiskScoreField).(float64)

	sanctions := false
	if mapping.SanctionsField != "" {
		sanctions, _ = getNestedValue(data, mapping.SanctionsField).(bool)
	}

	flags := []string{}
	if mapping.FlagsField != "" {
		if raw, ok := getNestedValue(data, mapping.FlagsField).([]interface{}); ok {
			for _, f := range raw {
				if s, ok := f.(string); ok {
					flags = append(flags, s)
				}
			}
		}
	}

	for _, f := range flags {
		for _, r := range mapping.RejectedFlags {
			if strings.EqualFold(f, r) {
				sanctions = true
			}
		}
	}

	return Decide(address, score, sanctions, flags, p.threshold)
}

func getNestedValue(data map[string]interface{}, path string) interface{} {
	if path == "" {
		return nil
	}
	current := interface{}(data)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}
