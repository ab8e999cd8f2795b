// Package feed exports the simulation as a GTFS-Realtime feed.
package feed

import (
	"math"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/railsim/railsim_core/internal/models"
	"github.com/railsim/railsim_core/internal/sim"
	"google.golang.org/protobuf/proto"
)

const gtfsRealtimeVersion = "2.0"

// Build assembles a full-dataset FeedMessage: one TripUpdate per train on a route
// and one VehiclePosition per train that has reached its origin
func Build(now time.Time, trains []sim.TrainView, stations []sim.StationView) *gtfs.FeedMessage {
	coords := make(map[string]sim.StationView, len(stations))
	for _, s := range stations {
		coords[s.ID] = s
	}

	msg := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String(gtfsRealtimeVersion),
			Incrementality:      gtfs.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(now.Unix())),
		},
	}

	for _, t := range trains {
		if t.RouteID == "" || t.Status == models.StatusUnassigned || t.Status == models.StatusTerminated {
			continue
		}
		msg.Entity = append(msg.Entity, &gtfs.FeedEntity{
			Id:         proto.String("trip:" + t.ID),
			TripUpdate: tripUpdate(now, t),
		})
		if vp := vehiclePosition(now, t, coords); vp != nil {
			msg.Entity = append(msg.Entity, &gtfs.FeedEntity{
				Id:      proto.String("vehicle:" + t.ID),
				Vehicle: vp,
			})
		}
	}
	return msg
}

func tripDescriptor(t sim.TrainView) *gtfs.TripDescriptor {
	return &gtfs.TripDescriptor{
		TripId:    proto.String(t.ID),
		RouteId:   proto.String(t.RouteID),
		StartTime: proto.String(t.ScheduledDeparture.Format("15:04:05")),
		StartDate: proto.String(t.ScheduledDeparture.Format("20060102")),
	}
}

func vehicleDescriptor(t sim.TrainView) *gtfs.VehicleDescriptor {
	return &gtfs.VehicleDescriptor{
		Id:    proto.String(t.ID),
		Label: proto.String(t.Name),
	}
}

func tripUpdate(now time.Time, t sim.TrainView) *gtfs.TripUpdate {
	tu := &gtfs.TripUpdate{
		Trip:      tripDescriptor(t),
		Vehicle:   vehicleDescriptor(t),
		Timestamp: proto.Uint64(uint64(now.Unix())),
		Delay:     proto.Int32(int32(t.DelaySeconds)),
	}
	for _, stop := range t.Upcoming {
		delay := int32(stop.ExpectedArrival.Sub(stop.PlannedArrival) / time.Second)
		tu.StopTimeUpdate = append(tu.StopTimeUpdate, &gtfs.TripUpdate_StopTimeUpdate{
			StopSequence: proto.Uint32(uint32(stop.WaypointIndex)),
			StopId:       proto.String(stop.StationID),
			Arrival: &gtfs.TripUpdate_StopTimeEvent{
				Delay: proto.Int32(delay),
				Time:  proto.Int64(stop.ExpectedArrival.Unix()),
			},
			Departure: &gtfs.TripUpdate_StopTimeEvent{
				Delay: proto.Int32(delay),
				Time:  proto.Int64(stop.ExpectedDeparture.Unix()),
			},
		})
	}
	return tu
}

func vehiclePosition(now time.Time, t sim.TrainView, coords map[string]sim.StationView) *gtfs.VehiclePosition {
	if t.LastStationID == "" {
		return nil
	}
	last, ok := coords[t.LastStationID]
	if !ok {
		return nil
	}

	vp := &gtfs.VehiclePosition{
		Trip:                tripDescriptor(t),
		Vehicle:             vehicleDescriptor(t),
		Timestamp:           proto.Uint64(uint64(now.Unix())),
		CurrentStopSequence: proto.Uint32(uint32(t.WaypointIndex)),
	}

	lat, lon := last.Lat, last.Lon
	switch {
	case t.Phase == models.PhaseDwelling && t.CurrentStationID != "":
		vp.CurrentStatus = gtfs.VehiclePosition_STOPPED_AT.Enum()
		vp.StopId = proto.String(t.CurrentStationID)
	case t.NextStationID != "":
		next, ok := coords[t.NextStationID]
		if ok {
			lat, lon = linearInterpolate(last.Lat, last.Lon, next.Lat, next.Lon, t.StationFraction)
		}
		if t.Phase == models.PhaseHeld {
			vp.CurrentStatus = gtfs.VehiclePosition_INCOMING_AT.Enum()
		} else {
			vp.CurrentStatus = gtfs.VehiclePosition_IN_TRANSIT_TO.Enum()
		}
		vp.StopId = proto.String(t.NextStationID)
	default:
		vp.CurrentStatus = gtfs.VehiclePosition_STOPPED_AT.Enum()
		vp.StopId = proto.String(t.LastStationID)
	}

	if t.SeatCapacity > 0 {
		vp.OccupancyStatus = occupancyStatus(t.LoadFactor).Enum()
		vp.OccupancyPercentage = proto.Uint32(uint32(math.Round(t.LoadFactor * 100)))
	}

	vp.Position = &gtfs.Position{
		Latitude:  proto.Float32(float32(lat)),
		Longitude: proto.Float32(float32(lon)),
		Speed:     proto.Float32(float32(t.SpeedKmh / 3.6)), // m/s
	}
	return vp
}

func occupancyStatus(load float64) gtfs.VehiclePosition_OccupancyStatus {
	switch {
	case load <= 0:
		return gtfs.VehiclePosition_EMPTY
	case load < 0.5:
		return gtfs.VehiclePosition_MANY_SEATS_AVAILABLE
	case load < 1:
		return gtfs.VehiclePosition_FEW_SEATS_AVAILABLE
	default:
		return gtfs.VehiclePosition_FULL
	}
}

// linearInterpolate performs simple linear interpolation between two points
func linearInterpolate(lat1, lon1, lat2, lon2, progress float64) (lat, lon float64) {
	lat = lat1 + (lat2-lat1)*progress
	lon = lon1 + (lon2-lon1)*progress
	return lat, lon
}
