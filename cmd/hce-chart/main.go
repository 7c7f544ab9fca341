// hce-chart renders a leader audit log as a timeline: one lane per exchange
// reason, one box per exchange spanning its wall-clock start to end, labeled
// with the bytes moved. Useful for eyeballing where a session spent its time
// and how exchange latency varies by trigger.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"image/color"
	"log"
	"os"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"
)

type Exchange struct {
	Reason    string
	StartReal int64
	EndReal   int64
	TxBytes   int
	RxBytes   int
}

var laneOrder = []string{"initial", "write", "expired", "recheck"}

var laneColors = map[string]color.Color{
	"initial": color.RGBA{64, 192, 64, 255},
	"write":   color.RGBA{128, 128, 255, 255},
	"expired": color.RGBA{192, 64, 64, 255},
	"recheck": color.RGBA{192, 192, 64, 255},
}

func parseAudit(path string) (session string, exchanges []Exchange, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return "", nil, err
	}
	if len(records) < 1 {
		return "", nil, fmt.Errorf("audit log %s has no header row", path)
	}

	var open *Exchange
	for i, row := range records[1:] {
		if len(row) != 6 {
			return "", nil, fmt.Errorf("audit row %d: expected 6 columns, found %d", i+2, len(row))
		}
		event, reason := row[0], row[4]
		realNs, err := strconv.ParseInt(row[2], 10, 64)
		if err != nil {
			return "", nil, fmt.Errorf("audit row %d: %w", i+2, err)
		}
		count, err := strconv.Atoi(row[3])
		if err != nil {
			return "", nil, fmt.Errorf("audit row %d: %w", i+2, err)
		}
		session = row[5]
		switch event {
		case "start":
			if open != nil {
				return "", nil, fmt.Errorf("audit row %d: start without end of previous exchange", i+2)
			}
			open = &Exchange{Reason: reason, StartReal: realNs, TxBytes: count}
		case "end":
			if open == nil || open.Reason != reason {
				return "", nil, fmt.Errorf("audit row %d: end does not match open exchange", i+2)
			}
			open.EndReal = realNs
			open.RxBytes = count
			exchanges = append(exchanges, *open)
			open = nil
		default:
			return "", nil, fmt.Errorf("audit row %d: unknown event %q", i+2, event)
		}
	}
	if open != nil {
		// a session that died mid-exchange leaves a dangling start; chart it
		// as a zero-length box rather than failing
		open.EndReal = open.StartReal
		exchanges = append(exchanges, *open)
	}
	return session, exchanges, nil
}

func buildPlot(session string, exchanges []Exchange) *plot.Plot {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Exchange Timeline (session %s)", session)
	p.X.Label.Text = "Elapsed Real Time (seconds)"

	var epoch int64
	if len(exchanges) > 0 {
		epoch = exchanges[0].StartReal
	}

	lanes := map[string][]Activity{}
	for _, ex := range exchanges {
		label := ""
		if ex.TxBytes > 0 || ex.RxBytes > 0 {
			label = fmt.Sprintf("%d/%d", ex.TxBytes, ex.RxBytes)
		}
		lanes[ex.Reason] = append(lanes[ex.Reason], Activity{
			Start: float64(ex.StartReal-epoch) / 1e9,
			End:   float64(ex.EndReal-epoch) / 1e9,
			Color: laneColors[ex.Reason],
			Label: label,
		})
	}

	p.NominalY(laneOrder...)
	for i, reason := range laneOrder {
		p.Add(NewTimelinePlot(lanes[reason], nil, float64(i), vg.Points(20)))
	}
	return p
}

func main() {
	auditPath := flag.String("audit", "hce-proxy-audit.csv", "audit log to render")
	outputPath := flag.String("output", "timeline.png", "output image path")
	width := flag.Float64("width", 30, "output width in centimeters")
	height := flag.Float64("height", 10, "output height in centimeters")
	flag.Parse()

	session, exchanges, err := parseAudit(*auditPath)
	if err != nil {
		log.Fatal(err)
	}
	if len(exchanges) == 0 {
		log.Fatalf("audit log %s contains no exchanges", *auditPath)
	}
	p := buildPlot(session, exchanges)
	if err := SavePlot(p, vg.Length(*width)*vg.Centimeter, vg.Length(*height)*vg.Centimeter, *outputPath, "png"); err != nil {
		log.Fatal(err)
	}
	log.Printf("rendered %d exchanges to %s", len(exchanges), *outputPath)
}
