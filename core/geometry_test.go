package core

import (
	"math"
	"testing"

	"github.com/signalsfoundry/safespaces/model"
)

func TestDistanceMetres(t *testing.T) {
	tests := []struct {
		name string
		a, b model.Coordinate
		want float64
		tol  float64
	}{
		{
			name: "same point",
			a:    model.Coordinate{Latitude: 37.33, Longitude: -122.01},
			b:    model.Coordinate{Latitude: 37.33, Longitude: -122.01},
			want: 0,
			tol:  1e-9,
		},
		{
			name: "one degree of longitude on the equator",
			a:    model.Coordinate{Latitude: 0, Longitude: 0},
			b:    model.Coordinate{Latitude: 0, Longitude: 1},
			want: EarthRadiusMetres * math.Pi / 180,
			tol:  1e-6,
		},
		{
			name: "antipodal",
			a:    model.Coordinate{Latitude: 0, Longitude: 0},
			b:    model.Coordinate{Latitude: 0, Longitude: 180},
			want: EarthRadiusMetres * math.Pi,
			tol:  1e-3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceMetres(tt.a, tt.b)
			if math.Abs(got-tt.want) > tt.tol {
				t.Fatalf("DistanceMetres = %v, want %v (±%v)", got, tt.want, tt.tol)
			}
			if back := DistanceMetres(tt.b, tt.a); math.Abs(back-got) > 1e-9 {
				t.Fatalf("distance not symmetric: %v vs %v", got, back)
			}
		})
	}
}

func TestClassifyBoundaryIsDeadZone(t *testing.T) {
	if s, ok := Classify(99.9, 100); !ok || s != model.StateInside {
		t.Fatalf("Classify(99.9) = %v,%v", s, ok)
	}
	if s, ok := Classify(100.1, 100); !ok || s != model.StateOutside {
		t.Fatalf("Classify(100.1) = %v,%v", s, ok)
	}
	if _, ok := Classify(100, 100); ok {
		t.Fatalf("Classify on the boundary must not decide membership")
	}
}
