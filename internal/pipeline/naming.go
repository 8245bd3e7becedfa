package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/fluwatch/snapshot-etl/internal/domain"
)

// Snapshot file kinds. The viewer builds fetch paths from these exact
// templates; changing them is a breaking change for every deployed page.
const (
	KindTruth    = "truth"
	KindForecast = "forecast"
)

// TruthFilename returns truth_<target>_<location>_<as-of>.json.
func TruthFilename(target, location string, asOf time.Time) string {
	return snapshotFilename(KindTruth, target, location, asOf)
}

// ForecastFilename returns forecast_<target>_<location>_<as-of>.json.
func ForecastFilename(target, location string, asOf time.Time) string {
	return snapshotFilename(KindForecast, target, location, asOf)
}

func snapshotFilename(kind, target, location string, asOf time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%s.json", kind, target, location, asOf.Format(domain.DateFormat))
}

// SnapshotName is a parsed snapshot filename.
type SnapshotName struct {
	Kind     string
	Target   string
	Location string
	AsOf     time.Time
}

// ParseSnapshotFilename decomposes a snapshot filename back into its
// parts. The target itself may contain underscores; the kind, location,
// and as-of date may not, so parsing anchors on the outer segments.
func ParseSnapshotFilename(name string) (SnapshotName, error) {
	base, ok := strings.CutSuffix(name, ".json")
	if !ok {
		return SnapshotName{}, fmt.Errorf("not a snapshot file: %q", name)
	}

	parts := strings.Split(base, "_")
	if len(parts) < 4 {
		return SnapshotName{}, fmt.Errorf("malformed snapshot name: %q", name)
	}

	kind := parts[0]
	if kind != KindTruth && kind != KindForecast {
		return SnapshotName{}, fmt.Errorf("unknown snapshot kind %q in %q", kind, name)
	}

	asOf, err := time.ParseInLocation(domain.DateFormat, parts[len(parts)-1], time.UTC)
	if err != nil {
		return SnapshotName{}, fmt.Errorf("bad as-of in %q: %w", name, err)
	}

	return SnapshotName{
		Kind:     kind,
		Target:   strings.Join(parts[1:len(parts)-2], "_"),
		Location: parts[len(parts)-2],
		AsOf:     asOf,
	}, nil
}
