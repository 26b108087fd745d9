package irradiation

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/solar.report/internal/httputil"
	"github.com/banshee-data/solar.report/internal/solar"
)

// DefaultPVGISURL is the PV-GIS non-interactive PVcalc endpoint.
const DefaultPVGISURL = "https://re.jrc.ec.europa.eu/api/PVcalc"

// DefaultPVGISRate is the documented request ceiling per second.
const DefaultPVGISRate = 25

// allowedPVGISErrors are 400 responses that mean "no answer here" rather
// than failure.
var allowedPVGISErrors = []string{
	"Location over the sea. Please, select another location",
}

// PVGISRequest describes one fixed-mount installation.
type PVGISRequest struct {
	Lat, Lon float64
	// PeakPowerKW is the installed capacity.
	PeakPowerKW float64
	// LossPercent is the total system loss.
	LossPercent float64
	// Slope is degrees from horizontal; Aspect is compass degrees.
	Slope  float64
	Aspect float64
	PVTech solar.PVTech
	// Horizon heights in degrees for equal slices clockwise from north.
	// Nil lets PV-GIS use its own horizon.
	Horizon []float64
}

// PVGISEstimate is the yield PV-GIS reports for a request.
type PVGISEstimate struct {
	KWhYear     float64
	KWhMonthly  [12]float64
	PeakPowerKW float64
}

// PVGISClient queries PV-GIS, holding every caller to one shared request
// rate.
type PVGISClient struct {
	client  httputil.HTTPClient
	baseURL string
	ticker  *time.Ticker
}

// NewPVGISClient returns a client sending at most rate requests per
// second. Close releases the rate limiter.
func NewPVGISClient(client httputil.HTTPClient, baseURL string, rate int) *PVGISClient {
	if client == nil {
		client = httputil.NewStandardClient(&http.Client{Timeout: time.Minute})
	}
	if baseURL == "" {
		baseURL = DefaultPVGISURL
	}
	if rate <= 0 {
		rate = DefaultPVGISRate
	}
	return &PVGISClient{
		client:  client,
		baseURL: baseURL,
		ticker:  time.NewTicker(time.Second / time.Duration(rate)),
	}
}

// Close stops the rate limiter.
func (c *PVGISClient) Close() {
	c.ticker.Stop()
}

// Query builds the PVcalc query for r.
func (r PVGISRequest) Query() url.Values {
	q := url.Values{}
	q.Set("outputformat", "json")
	q.Set("browser", "0")
	q.Set("lat", formatCoord(r.Lat))
	q.Set("lon", formatCoord(r.Lon))
	q.Set("peakpower", formatCoord(r.PeakPowerKW))
	q.Set("loss", formatCoord(r.LossPercent))
	q.Set("mountingplace", "free")
	q.Set("angle", formatCoord(r.Slope))
	// PV-GIS measures aspect from south, positive to the west.
	q.Set("aspect", formatCoord(r.Aspect-180))
	tech := r.PVTech
	if tech == "" {
		tech = solar.CrystSi
	}
	q.Set("pvtechchoice", string(tech))
	if len(r.Horizon) > 0 {
		parts := make([]string, len(r.Horizon))
		for i, h := range r.Horizon {
			parts[i] = formatCoord(h)
		}
		q.Set("userhorizon", strings.Join(parts, ","))
	}
	return q
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type pvgisResponse struct {
	Inputs struct {
		PVModule struct {
			PeakPower float64 `json:"peak_power"`
		} `json:"pv_module"`
	} `json:"inputs"`
	Outputs struct {
		Monthly struct {
			Fixed []struct {
				Month int     `json:"month"`
				EM    float64 `json:"E_m"`
			} `json:"fixed"`
		} `json:"monthly"`
		Totals struct {
			Fixed struct {
				EY float64 `json:"E_y"`
			} `json:"fixed"`
		} `json:"totals"`
	} `json:"outputs"`
}

type pvgisError struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// Estimate asks PV-GIS for the yield of r. A nil estimate with no error
// means PV-GIS declined the location with an allowed error.
func (c *PVGISClient) Estimate(ctx context.Context, r PVGISRequest) (*PVGISEstimate, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ticker.C:
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+r.Query().Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("pvgis request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pvgis: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		var perr pvgisError
		if err := httputil.DecodeJSON(resp, &perr); err == nil {
			for _, allowed := range allowedPVGISErrors {
				if perr.Message == allowed {
					return nil, nil
				}
			}
			return nil, fmt.Errorf("pvgis: %w", &httputil.StatusError{Status: resp.StatusCode, Body: perr.Message})
		}
		return nil, fmt.Errorf("pvgis: %w", &httputil.StatusError{Status: resp.StatusCode})
	}
	if err := httputil.CheckStatus(resp); err != nil {
		return nil, fmt.Errorf("pvgis: %w", err)
	}

	var body pvgisResponse
	if err := httputil.DecodeJSON(resp, &body); err != nil {
		return nil, fmt.Errorf("pvgis: %w", err)
	}
	est := &PVGISEstimate{
		KWhYear:     body.Outputs.Totals.Fixed.EY,
		PeakPowerKW: body.Inputs.PVModule.PeakPower,
	}
	for _, m := range body.Outputs.Monthly.Fixed {
		if m.Month >= 1 && m.Month <= 12 {
			est.KWhMonthly[m.Month-1] = m.EM
		}
	}
	return est, nil
}

// EstimatePlanes fills in yield for every usable plane from PV-GIS, using
// the site location for all of them and each plane's own horizon when it
// has one. Planes at locations PV-GIS declines are left at zero. It
// returns the number of planes estimated.
func EstimatePlanes(ctx context.Context, c *PVGISClient, lat, lon float64, planes []solar.RoofPlane, tech solar.PVTech, p Params) (int, error) {
	n := 0
	for i := range planes {
		pl := &planes[i]
		if !pl.Usable || pl.RawArea <= 0 {
			continue
		}
		est, err := c.Estimate(ctx, PVGISRequest{
			Lat:         lat,
			Lon:         lon,
			PeakPowerKW: pl.RawArea * p.PeakPowerPerM2,
			LossPercent: p.SystemLoss * 100,
			Slope:       pl.Slope,
			Aspect:      pl.Aspect,
			PVTech:      tech,
			Horizon:     pl.Horizon,
		})
		if err != nil {
			return n, fmt.Errorf("building %s plane %d: %w", pl.BuildingID, pl.ID, err)
		}
		if est == nil {
			continue
		}
		pl.KWhYear, pl.KWhMonthly = est.KWhYear, est.KWhMonthly
		n++
	}
	return n, nil
}
