package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/aditya/ride-dispatch/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	driverLocationKeyPrefix = "drivers:locations:"
	driverPresenceKeyPrefix = "driver:presence:"
	driversOnlineKey        = "drivers:online"
)

type redisIndex struct {
	redis *redis.Client
}

// NewRedisIndex keeps one GEO set per car class plus a presence hash per driver.
func NewRedisIndex(redisClient *redis.Client) ProximityIndex {
	return &redisIndex{redis: redisClient}
}

func presenceKey(driverID string) string {
	return driverPresenceKeyPrefix + driverID
}

// maxUpsertRetries bounds optimistic retries when the presence hash changes
// between the read and the write of an upsert.
const maxUpsertRetries = 10

func (c *redisIndex) UpsertPosition(ctx context.Context, driverID string, lat, lng float64, status, carClass string) error {
	key := presenceKey(driverID)
	for i := 0; i < maxUpsertRetries; i++ {
		err := c.redis.Watch(ctx, func(tx *redis.Tx) error {
			return c.upsert(ctx, tx, key, driverID, lat, lng, status, carClass)
		}, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return redis.TxFailedErr
}

// upsert runs under WATCH on the presence hash. An empty status leaves the
// stored one untouched, so a position ping never overwrites a concurrent
// BindOrder or SetStatus.
func (c *redisIndex) upsert(ctx context.Context, tx *redis.Tx, key, driverID string, lat, lng float64, status, carClass string) error {
	prev, err := tx.HMGet(ctx, key, "status", "car_class").Result()
	if err != nil {
		return err
	}
	prevStatus, _ := prev[0].(string)
	prevClass, _ := prev[1].(string)

	if status == "" && prevStatus == "" {
		status = models.DriverStatusOffline
	}
	if carClass == "" {
		carClass = prevClass
	}

	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if prevClass != "" && prevClass != carClass {
			pipe.ZRem(ctx, driverLocationKeyPrefix+prevClass, driverID)
		}
		if carClass != "" {
			pipe.GeoAdd(ctx, driverLocationKeyPrefix+carClass, &redis.GeoLocation{
				Name:      driverID,
				Longitude: lng,
				Latitude:  lat,
			})
		}
		fields := map[string]interface{}{
			"car_class":        carClass,
			"lat":              strconv.FormatFloat(lat, 'f', -1, 64),
			"lng":              strconv.FormatFloat(lng, 'f', -1, 64),
			"last_location_at": strconv.FormatInt(time.Now().UnixNano(), 10),
		}
		if status != "" {
			fields["status"] = status
		}
		pipe.HSet(ctx, key, fields)
		if status != "" {
			trackOnline(ctx, pipe, driverID, status)
		}
		return nil
	})
	return err
}

func (c *redisIndex) SetStatus(ctx context.Context, driverID, status string) error {
	key := presenceKey(driverID)
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "status", status)
		trackOnline(ctx, pipe, driverID, status)
		return nil
	})
	return err
}

func (c *redisIndex) BindOrder(ctx context.Context, driverID, orderID, clientID string) error {
	key := presenceKey(driverID)
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"status":           models.DriverStatusBusy,
			"active_order_id":  orderID,
			"active_client_id": clientID,
		})
		pipe.SRem(ctx, driversOnlineKey, driverID)
		return nil
	})
	return err
}

func (c *redisIndex) ReleaseOrder(ctx context.Context, driverID, status string) error {
	key := presenceKey(driverID)
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, key, "active_order_id", "active_client_id")
		pipe.HSet(ctx, key, "status", status)
		trackOnline(ctx, pipe, driverID, status)
		return nil
	})
	return err
}

func (c *redisIndex) Get(ctx context.Context, driverID string) (*models.DriverPresence, error) {
	fields, err := c.redis.HGetAll(ctx, presenceKey(driverID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return presenceFromHash(driverID, fields)
}

func (c *redisIndex) Nearby(ctx context.Context, lat, lng, radiusKm float64, carClass string, limit int) ([]models.DriverDistance, error) {
	geoKey := driverLocationKeyPrefix + carClass

	locations, err := c.redis.GeoRadius(ctx, geoKey, lng, lat, &redis.GeoRadiusQuery{
		Radius:   radiusKm,
		Unit:     "km",
		WithDist: true,
		Sort:     "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(locations) == 0 {
		return nil, nil
	}

	pipe := c.redis.Pipeline()
	statuses := make([]*redis.StringCmd, len(locations))
	for i, loc := range locations {
		statuses[i] = pipe.HGet(ctx, presenceKey(loc.Name), "status")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	result := make([]models.DriverDistance, 0, len(locations))
	for i, loc := range locations {
		if statuses[i].Val() != models.DriverStatusOnline {
			continue
		}
		result = append(result, models.DriverDistance{
			DriverID: loc.Name,
			Distance: loc.Dist,
		})
	}

	sortByDistance(result)
	return truncate(result, limit), nil
}

func (c *redisIndex) CountOnline(ctx context.Context) (int, error) {
	n, err := c.redis.SCard(ctx, driversOnlineKey).Result()
	return int(n), err
}

func trackOnline(ctx context.Context, pipe redis.Pipeliner, driverID, status string) {
	if status == models.DriverStatusOnline {
		pipe.SAdd(ctx, driversOnlineKey, driverID)
		return
	}
	pipe.SRem(ctx, driversOnlineKey, driverID)
}

func presenceFromHash(driverID string, fields map[string]string) (*models.DriverPresence, error) {
	p := &models.DriverPresence{
		DriverID:       driverID,
		Status:         fields["status"],
		CarClass:       fields["car_class"],
		ActiveOrderID:  fields["active_order_id"],
		ActiveClientID: fields["active_client_id"],
	}

	var err error
	if v := fields["lat"]; v != "" {
		if p.Lat, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, err
		}
	}
	if v := fields["lng"]; v != "" {
		if p.Lng, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, err
		}
	}
	if v := fields["last_location_at"]; v != "" {
		ns, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, err
		}
		p.LastLocationAt = time.Unix(0, ns)
	}
	return p, nil
}
