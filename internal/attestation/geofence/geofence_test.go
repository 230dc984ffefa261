package geofence

import (
	"testing"

	"github.com/smartystreets/goconvey/convey"

	dErrors "eventlens/pkg/domain-errors"
)

// One degree of latitude is 2*pi*6371/360 km.
const kmPerDegreeLat = 111.19492664455873

func TestEvaluate(t *testing.T) {
	venue := &Coordinate{Lat: 12.9716, Lon: 77.5946}

	convey.Convey("Given a venue with a 2 km fence", t, func() {
		convey.Convey("When the claimant stands on the venue point", func() {
			ev := Evaluate(&Coordinate{Lat: venue.Lat, Lon: venue.Lon}, venue, 2)
			convey.So(ev.Result, convey.ShouldEqual, Pass)
			convey.So(ev.DistanceKM, convey.ShouldEqual, 0.0)
		})

		convey.Convey("When the claimant is 2.1 km due north", func() {
			claimed := &Coordinate{Lat: venue.Lat + 2.1/kmPerDegreeLat, Lon: venue.Lon}
			ev := Evaluate(claimed, venue, 2)
			convey.So(ev.Result, convey.ShouldEqual, Fail)
			convey.So(ev.DistanceKM, convey.ShouldAlmostEqual, 2.1, 0.001)
		})

		convey.Convey("When the claimant is 1.9 km due north", func() {
			claimed := &Coordinate{Lat: venue.Lat + 1.9/kmPerDegreeLat, Lon: venue.Lon}
			convey.So(Evaluate(claimed, venue, 2).Result, convey.ShouldEqual, Pass)
		})

		convey.Convey("When the claimant sent no coordinate", func() {
			convey.So(Evaluate(nil, venue, 2).Result, convey.ShouldEqual, Indeterminate)
		})

		convey.Convey("When the event has no venue coordinate", func() {
			convey.So(Evaluate(&Coordinate{}, nil, 2).Result, convey.ShouldEqual, Indeterminate)
		})

		convey.Convey("When no radius is configured the default applies", func() {
			convey.So(Evaluate(nil, venue, 0).RadiusKM, convey.ShouldEqual, DefaultRadiusKM)
		})
	})
}

func TestHaversineKnownDistance(t *testing.T) {
	convey.Convey("Paris to London is about 343.5 km", t, func() {
		d := Haversine(Coordinate{Lat: 48.8566, Lon: 2.3522}, Coordinate{Lat: 51.5074, Lon: -0.1278})
		convey.So(d, convey.ShouldAlmostEqual, 343.5, 1.0)
	})
}

func TestCoordinateValidate(t *testing.T) {
	convey.Convey("Coordinates outside the degree ranges are malformed", t, func() {
		convey.So(Coordinate{Lat: 91}.Validate(), convey.ShouldNotBeNil)
		convey.So(dErrors.HasCode(Coordinate{Lon: -181}.Validate(), dErrors.CodeMalformedInput), convey.ShouldBeTrue)
		convey.So(Coordinate{Lat: -90, Lon: 180}.Validate(), convey.ShouldBeNil)
	})
}
