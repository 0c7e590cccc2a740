package monitor

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/smallsize-vision/balltrack/internal/httputil"
)

// echartsAssetsPrefix points the rendered pages at the go-echarts CDN so
// the binary ships no JS assets.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleSpeedChart renders the ball speed timeline of a recorded session,
// with a step trace marking contact episodes.
func (ws *WebServer) handleSpeedChart(w http.ResponseWriter, r *http.Request) {
	if ws.db == nil {
		httputil.NotFound(w, "no database configured")
		return
	}
	session := ws.currentSession(r)
	if session == "" {
		httputil.BadRequest(w, "missing 'session' parameter and no live recording")
		return
	}

	rows, err := ws.db.RecentBallStates(session, queryLimit(r, 500, 5000))
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("load ball states: %v", err))
		return
	}
	if len(rows) == 0 {
		httputil.NotFound(w, "no recorded states for session")
		return
	}

	t0 := rows[0].TimeNs
	maxSpeed := 0.0
	for _, row := range rows {
		if row.Speed > maxSpeed {
			maxSpeed = row.Speed
		}
	}
	if maxSpeed == 0 {
		maxSpeed = 1
	}

	xs := make([]string, 0, len(rows))
	speed := make([]opts.LineData, 0, len(rows))
	contact := make([]opts.LineData, 0, len(rows))
	for _, row := range rows {
		xs = append(xs, fmt.Sprintf("%.2f", float64(row.TimeNs-t0)/1e9))
		speed = append(speed, opts.LineData{Value: row.Speed})
		// Scale the contact flag to the speed axis so both traces share it.
		c := 0.0
		if row.InContact {
			c = maxSpeed
		}
		contact = append(contact, opts.LineData{Value: c})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Ball Speed", Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Ball Speed", Subtitle: fmt.Sprintf("session=%s samples=%d", session, len(rows))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "speed (mm/s)", NameLocation: "middle", NameGap: 45}),
	)
	line.SetXAxis(xs).
		AddSeries("speed", speed).
		AddSeries("contact", contact)

	renderChart(w, line)
}

// handleErrorChart renders the prediction residual per accepted
// detection from the retained debug frames, colored by camera.
func (ws *WebServer) handleErrorChart(w http.ResponseWriter, r *http.Request) {
	frames := ws.manager.RecentDebugFrames()

	var t0 int64
	maxCam := uint32(0)
	data := make([]opts.ScatterData, 0, len(frames)*4)
	for _, f := range frames {
		for _, in := range f.Innovations {
			if t0 == 0 {
				t0 = in.TimeNs
			}
			if in.CameraID > maxCam {
				maxCam = in.CameraID
			}
			t := float64(in.TimeNs-t0) / 1e9
			data = append(data, opts.ScatterData{Value: []interface{}{t, in.ResidualMM, in.CameraID}})
		}
	}
	if len(data) == 0 {
		httputil.NotFound(w, "no debug frames retained; enable collection via POST /api/debug?enabled=true")
		return
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Prediction Error", Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Prediction Error", Subtitle: fmt.Sprintf("frames=%d residuals=%d", len(frames), len(data))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "residual (mm)", NameLocation: "middle", NameGap: 40}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxCam) + 1,
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#35b779", "#31688e", "#fde725", "#440154"}},
		}),
	)
	scatter.AddSeries("residual", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}))

	renderChart(w, scatter)
}

// handleTrackChart renders the recorded XY trajectory on a square field
// plot, colored by ball speed.
func (ws *WebServer) handleTrackChart(w http.ResponseWriter, r *http.Request) {
	if ws.db == nil {
		httputil.NotFound(w, "no database configured")
		return
	}
	session := ws.currentSession(r)
	if session == "" {
		httputil.BadRequest(w, "missing 'session' parameter and no live recording")
		return
	}

	rows, err := ws.db.RecentBallStates(session, queryLimit(r, 2000, 10000))
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("load ball states: %v", err))
		return
	}
	if len(rows) == 0 {
		httputil.NotFound(w, "no recorded states for session")
		return
	}

	maxAbs := 0.0
	maxSpeed := 0.0
	data := make([]opts.ScatterData, 0, len(rows))
	for _, row := range rows {
		if math.Abs(row.X) > maxAbs {
			maxAbs = math.Abs(row.X)
		}
		if math.Abs(row.Y) > maxAbs {
			maxAbs = math.Abs(row.Y)
		}
		if row.Speed > maxSpeed {
			maxSpeed = row.Speed
		}
		data = append(data, opts.ScatterData{Value: []interface{}{row.X, row.Y, row.Speed}})
	}

	// Pad so edge points stay visible on a square plot.
	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}
	if maxSpeed == 0 {
		maxSpeed = 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Ball Trajectory", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Ball Trajectory", Subtitle: fmt.Sprintf("session=%s samples=%d", session, len(rows))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (mm)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (mm)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxSpeed),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#31688e", "#35b779", "#fde725"}},
		}),
	)
	scatter.AddSeries("ball", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))

	renderChart(w, scatter)
}

type chartRenderer interface {
	Render(w io.Writer) error
}

func renderChart(w http.ResponseWriter, c chartRenderer) {
	var buf bytes.Buffer
	if err := c.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
