package api

import (
	"log/slog"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

// toGeoJSON renders one feature per alert area. Areas whose stored polygon
// no longer parses are skipped.
func toGeoJSON(alerts []*models.Alert, now time.Time) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	for _, a := range alerts {
		for _, area := range a.Areas() {
			poly, err := area.Geometry()
			if err != nil {
				slog.Warn("skipping unparsable area", "alert_id", a.ID(), "area_id", area.ID, "error", err)
				continue
			}
			f := geojson.NewFeature(poly)
			f.ID = area.ID
			f.Properties = geojson.Properties{
				"alert_id":        a.ID(),
				"area":            area.Description,
				"region_code":     area.RegionCode,
				"headline":        a.Headline(),
				"severity":        string(a.Severity()),
				"channel":         string(a.Channel()),
				"status":          string(a.EffectiveStatus(now)),
				"delivery_status": string(a.DeliveryStatus()),
				"expires_at":      a.ExpiresAt(),
			}
			fc.Append(f)
		}
	}

	return fc
}
