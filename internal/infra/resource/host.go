package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tutu-network/pregen/internal/domain"
)

// HostSource polls the host server's status endpoint:
//
//	GET {base}/status → {"players": 3, "tps": 19.7}
//
// Missing fields are left out of the readings.
type HostSource struct {
	baseURL string
	client  *http.Client
}

// NewHostSource creates a source for the host at baseURL.
func NewHostSource(baseURL string, timeout time.Duration) *HostSource {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HostSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type hostStatus struct {
	Players *float64 `json:"players"`
	TPS     *float64 `json:"tps"`
}

// Poll fetches one status document.
func (h *HostSource) Poll(ctx context.Context) (domain.Readings, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/status", nil)
	if err != nil {
		return domain.Readings{}, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return domain.Readings{}, fmt.Errorf("host status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Readings{}, fmt.Errorf("host status: HTTP %d", resp.StatusCode)
	}

	var st hostStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return domain.Readings{}, fmt.Errorf("decode host status: %w", err)
	}
	values := map[string]float64{}
	if st.Players != nil {
		values[domain.SignalPlayers] = *st.Players
	}
	if st.TPS != nil {
		values[domain.SignalTPS] = *st.TPS
	}
	return domain.NewReadings(values, time.Now()), nil
}
