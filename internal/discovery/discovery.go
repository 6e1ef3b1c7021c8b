// Package discovery is the optional, injectable server-discovery
// collaborator spec.md §1 places out of scope for the measurement core
// ("server discovery and TLS negotiation ... assumed handled by an
// external component"). It is grounded directly in the teacher's
// uwn/discovery.go (token acquisition, IP-info lookup, haversine geo-sort,
// ping-based SelectServers) but generalized so the directory endpoints
// are configuration, not a hardcoded vendor host — SPEC_FULL keeps this
// package outside internal/orchestrator's invariants and tests; callers
// wire its output (a transfer base URL and a ping base URL) into
// orchestrator.Run themselves.
package discovery

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/LibreQoE/bufferbloat-core/internal/bberrors"
)

const (
	pingAttempts = 3
	pingTimeout  = 3 * time.Second
)

// Server is one candidate discovered from the directory service.
type Server struct {
	URL       string  `json:"url"`
	Provider  string  `json:"provider"`
	City      string  `json:"city"`
	Country   string  `json:"country"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	LatencyMs float64 `json:"-"` // set by SelectServers
}

// IPInfo holds external IP/ISP/geo information from the directory service.
type IPInfo struct {
	IP  string  `json:"ip"`
	ISP string  `json:"isp"`
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type tokenResponse struct {
	Token string `json:"token"`
	TTL   int    `json:"ttl"`
}

// Client talks to a directory service at BaseURL (e.g.
// "https://directory.example.com/api/v1"). It is independent of the
// measurement core's transport package — discovery traffic is tiny and
// infrequent, so it uses a plain client rather than the tuned throughput
// transport.
type Client struct {
	BaseURL   string
	UserAgent string
	http      *http.Client
}

// NewClient builds a discovery Client. httpClient may be nil, in which
// case http.DefaultClient is used.
func NewClient(baseURL, userAgent string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{BaseURL: baseURL, UserAgent: userAgent, http: httpClient}
}

// FetchIPInfo retrieves external IP/ISP/geo information.
func (c *Client) FetchIPInfo(ctx context.Context) (*IPInfo, error) {
	var info IPInfo
	if err := c.getJSON(ctx, c.BaseURL+"/ip", &info); err != nil {
		return nil, bberrors.TransportFailure(err, "fetch ip info")
	}
	return &info, nil
}

// FetchToken acquires a test token from the directory service.
func (c *Client) FetchToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/tokens", nil)
	if err != nil {
		return "", bberrors.TransportFailure(err, "build token request")
	}
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", bberrors.TransportFailure(err, "fetch token")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", bberrors.NonTwoXX(resp.StatusCode, c.BaseURL+"/tokens")
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", bberrors.TransportFailure(err, "decode token response")
	}
	if tok.Token == "" {
		return "", bberrors.TransportFailure(nil, "directory service returned an empty token")
	}
	return tok.Token, nil
}

// DiscoverServers fetches the full candidate list.
func (c *Client) DiscoverServers(ctx context.Context) ([]Server, error) {
	var servers []Server
	if err := c.getJSON(ctx, c.BaseURL+"/servers", &servers); err != nil {
		return nil, bberrors.TransportFailure(err, "discover servers")
	}
	return servers, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return bberrors.NonTwoXX(resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// SelectServers geo-sorts candidates by distance to (clientLat, clientLon)
// when known, pings the nearest pingCount of them, and returns the best
// count by measured RTT.
func (c *Client) SelectServers(ctx context.Context, token string, candidates []Server, count int, clientLat, clientLon float64) ([]Server, error) {
	if len(candidates) == 0 {
		return nil, bberrors.TransportFailure(nil, "no candidate servers to select from")
	}

	if clientLat != 0 || clientLon != 0 {
		sort.Slice(candidates, func(i, j int) bool {
			di := haversineKm(clientLat, clientLon, candidates[i].Lat, candidates[i].Lon)
			dj := haversineKm(clientLat, clientLon, candidates[j].Lat, candidates[j].Lon)
			return di < dj
		})
	}

	pingCount := count + 2
	if pingCount < 10 {
		pingCount = 10
	}
	if pingCount > len(candidates) {
		pingCount = len(candidates)
	}

	var pinged []Server
	for i := 0; i < pingCount; i++ {
		s := candidates[i]
		latency, err := c.pingServer(ctx, s.URL, token)
		if err != nil {
			continue
		}
		s.LatencyMs = latency
		pinged = append(pinged, s)
	}
	if len(pinged) == 0 {
		return nil, bberrors.TransportFailure(nil, "no candidate servers responded to ping")
	}

	sort.Slice(pinged, func(i, j int) bool { return pinged[i].LatencyMs < pinged[j].LatencyMs })
	if count > len(pinged) {
		count = len(pinged)
	}
	return pinged[:count], nil
}

func (c *Client) pingServer(ctx context.Context, serverURL, token string) (float64, error) {
	pingURL := serverURL + "/ping"
	minRTT := math.MaxFloat64

	for i := 0; i < pingAttempts; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		req, err := http.NewRequestWithContext(pingCtx, http.MethodGet, pingURL, nil)
		if err != nil {
			cancel()
			return 0, err
		}
		req.Header.Set("User-Agent", c.UserAgent)
		req.Header.Set("X-Test-Token", token)

		start := time.Now()
		resp, err := c.http.Do(req)
		rtt := time.Since(start).Seconds() * 1000
		cancel()
		if err != nil {
			continue
		}
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // draining only
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			continue
		}
		if rtt < minRTT {
			minRTT = rtt
		}
	}
	if minRTT == math.MaxFloat64 {
		return 0, bberrors.TransportFailure(nil, "all pings to %s failed", serverURL)
	}
	return minRTT, nil
}

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}
