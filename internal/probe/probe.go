// Package probe implements the Uplink Probe (spec.md §4.4): digest
// authentication against a Keenetic-style router JSON-over-HTTP management
// interface, and uplink signal scoring from its interface inventory.
package probe

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"restreamer/internal/restreamerrors"
)

// QualityReport summarizes uplink quality, per spec.md §3. Level is
// monotone-decreasing in Score.
type QualityReport struct {
	Score int
	Level int
}

// Probe authenticates to and interrogates a router's RCI management
// surface. One Probe is created per controller; authenticate() must
// succeed before get_connection_info() is called.
type Probe struct {
	client           *http.Client
	baseURL          string
	login            string
	password         string
	degradationSteps int
	logger           zerolog.Logger
}

// New constructs a Probe. timeout bounds every HTTP call the probe makes.
func New(routerIP, login, password string, degradationSteps int, timeout time.Duration, logger zerolog.Logger) *Probe {
	jar, _ := newCookieJar()
	return &Probe{
		client:           &http.Client{Timeout: timeout, Jar: jar},
		baseURL:          fmt.Sprintf("http://%s", routerIP),
		login:            login,
		password:         password,
		degradationSteps: degradationSteps,
		logger:           logger,
	}
}

// Authenticate performs the digest challenge-response described in
// spec.md §4.4. It never retries internally.
func (p *Probe) Authenticate(ctx context.Context) (bool, error) {
	resp, err := p.get(ctx, "auth")
	if err != nil {
		return false, fmt.Errorf("%w: GET /auth: %v", restreamerrors.ErrAuthFailed, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		p.logger.Info().Msg("router session already authenticated")
		return true, nil
	case http.StatusUnauthorized:
		realm := resp.Header.Get("X-NDM-Realm")
		challenge := resp.Header.Get("X-NDM-Challenge")

		h1 := md5.Sum([]byte(fmt.Sprintf("%s:%s:%s", p.login, realm, p.password)))
		response := sha256.Sum256([]byte(challenge + hex.EncodeToString(h1[:])))

		postResp, err := p.post(ctx, "auth", map[string]string{
			"login":    p.login,
			"password": hex.EncodeToString(response[:]),
		})
		if err != nil {
			return false, fmt.Errorf("%w: POST /auth: %v", restreamerrors.ErrAuthFailed, err)
		}
		defer postResp.Body.Close()

		if postResp.StatusCode == http.StatusOK {
			p.logger.Info().Msg("router authentication succeeded")
			return true, nil
		}
		return false, fmt.Errorf("%w: status %d", restreamerrors.ErrAuthFailed, postResp.StatusCode)
	default:
		return false, fmt.Errorf("%w: unexpected status %d", restreamerrors.ErrAuthFailed, resp.StatusCode)
	}
}

// GetConnectionInfo fetches the interface inventory, locates the active
// uplink, classifies it, and scores it per spec.md §4.4.
func (p *Probe) GetConnectionInfo(ctx context.Context) (QualityReport, error) {
	resp, err := p.get(ctx, "rci/show/interface")
	if err != nil {
		return QualityReport{}, fmt.Errorf("%w: GET /rci/show/interface: %v", restreamerrors.ErrProbeFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return QualityReport{}, fmt.Errorf("%w: reading response: %v", restreamerrors.ErrProbeFailed, err)
	}
	if !gjson.ValidBytes(body) || len(body) == 0 {
		return QualityReport{}, fmt.Errorf("%w: empty or malformed response", restreamerrors.ErrProbeFailed)
	}

	root := gjson.ParseBytes(body)
	active := findActiveConnection(root)
	if !active.Exists() {
		return QualityReport{}, fmt.Errorf("%w: no active uplink found", restreamerrors.ErrProbeFailed)
	}

	if active.Get("type").String() == "WifiStation" {
		return p.scoreWifi(active)
	}
	return p.scoreCellular(active)
}

func (p *Probe) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s", p.baseURL, path), nil)
	if err != nil {
		return nil, err
	}
	return p.client.Do(req)
}

func (p *Probe) post(ctx context.Context, path string, body map[string]string) (*http.Response, error) {
	buf, err := marshalJSON(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/%s", p.baseURL, path), buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return p.client.Do(req)
}

// findActiveConnection walks the interface tree, depth-first, for the
// node with the highest "priority" among those carrying
// connected="yes"/status="connected", matching src/network/rciclient.py's
// find_used_connection.
func findActiveConnection(root gjson.Result) gjson.Result {
	var best gjson.Result
	var bestPriority float64

	var recurse func(node gjson.Result)
	recurse = func(node gjson.Result) {
		if node.IsObject() {
			connected := node.Get("connected").String() == "yes" || node.Get("status").String() == "connected"
			if connected {
				if pr := node.Get("priority"); pr.Exists() && pr.Float() > bestPriority {
					bestPriority = pr.Float()
					best = node
				}
			}
			node.ForEach(func(_, value gjson.Result) bool {
				recurse(value)
				return true
			})
		} else if node.IsArray() {
			node.ForEach(func(_, value gjson.Result) bool {
				recurse(value)
				return true
			})
		}
	}
	recurse(root)
	return best
}

func levelFromScore(score, degradationSteps int) int {
	step := 100 / degradationSteps
	level := (100 - score) / step
	if level < 0 {
		level = 0
	}
	if level > degradationSteps {
		level = degradationSteps
	}
	return level
}

func normalize(value, min, max float64) float64 {
	n := (value - min) / (max - min)
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}

// clampScore rounds score to the nearest integer using round-half-to-even,
// matching Python's round() in src/network/rciclient.py (lines computing
// the cellular/wifi scores), then clamps to [0, 100].
func clampScore(score float64) int {
	r := int(math.RoundToEven(score))
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return r
}

// scoreCellular scores a cellular uplink from rssi/rsrp/cinr, weights
// 30/40/30, per spec.md §4.4.
func (p *Probe) scoreCellular(conn gjson.Result) (QualityReport, error) {
	rssi := conn.Get("rssi").Float()
	rsrp := conn.Get("rsrp").Float()
	cinr := conn.Get("cinr").Float()

	rssiN := normalize(rssi, -80, -50)
	rsrpN := normalize(rsrp, -120, -85)
	cinrN := normalize(cinr, 0, 20)

	score := clampScore(rssiN*30 + rsrpN*40 + cinrN*30)
	return QualityReport{Score: score, Level: levelFromScore(score, p.degradationSteps)}, nil
}

// scoreWifi scores a wireless-station uplink from snr(=rssi-noise)/mcs/nss,
// weights 50/30/20, per spec.md §4.4.
func (p *Probe) scoreWifi(conn gjson.Result) (QualityReport, error) {
	rssi := conn.Get("rssi").Float()
	noise := conn.Get("noise").Float()
	mcs := conn.Get("mcs").Float()
	nss := conn.Get("nss").Float()

	snrN := normalize(rssi-noise, 0, 50)
	mcsN := normalize(mcs, 0, 11)
	nssN := normalize(nss, 1, 4)

	score := clampScore(snrN*50 + mcsN*30 + nssN*20)
	return QualityReport{Score: score, Level: levelFromScore(score, p.degradationSteps)}, nil
}
