package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

const (
	// DefaultPollInterval is how often a Relay checks for broadcasts from
	// other instances.
	DefaultPollInterval = 2 * time.Second

	// DefaultLookback is how far back a Relay re-checks for rows that
	// committed after a higher id was already read.
	DefaultLookback = 30 * time.Second

	pollBatch = 500
)

// Relay is a Hub for multi-instance deployments. Sinks live in a local
// Memory hub; every broadcast is also written to the hub_events table, and
// each instance polls that table to deliver broadcasts that originated
// elsewhere.
//
// Auto-increment ids are assigned before commit, so a row can become
// visible after a higher id was already read. Besides the id cursor, each
// poll re-checks rows created within the lookback window and delivers any
// it has not seen.
type Relay struct {
	db       *gorm.DB
	local    *Memory
	origin   string
	interval time.Duration
	lookback time.Duration

	mu     sync.Mutex
	lastID uint
	seen   map[uint]time.Time // id -> created_at, for rows inside the lookback window
}

// RelayOpts holds parameters for creating a Relay.
type RelayOpts struct {
	DB           *gorm.DB
	Local        *Memory       // defaults to a new Memory hub
	PollInterval time.Duration // defaults to DefaultPollInterval
	Origin       string        // instance identifier; defaults to a random UUID
	Lookback     time.Duration // defaults to DefaultLookback
}

// NewRelay creates a Relay. Call Run to start receiving remote broadcasts.
func NewRelay(opts RelayOpts) (*Relay, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("hub: relay db is required")
	}
	local := opts.Local
	if local == nil {
		local = NewMemory()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	origin := opts.Origin
	if origin == "" {
		origin = uuid.NewString()
	}
	lookback := opts.Lookback
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Relay{
		db:       opts.DB,
		local:    local,
		origin:   origin,
		interval: interval,
		lookback: lookback,
		seen:     make(map[uint]time.Time),
	}, nil
}

// Local returns the in-process hub holding this instance's sinks.
func (r *Relay) Local() *Memory { return r.local }

// Subscribe registers sink on this instance.
func (r *Relay) Subscribe(key Key, sink Sink) { r.local.Subscribe(key, sink) }

// Unsubscribe removes sink from this instance.
func (r *Relay) Unsubscribe(key Key, sink Sink) { r.local.Unsubscribe(key, sink) }

// Broadcast delivers evt to local sinks immediately and records it for other
// instances. A failed write is logged; local delivery still happens.
func (r *Relay) Broadcast(scope Key, evt Event) int {
	payload, err := json.Marshal(evt)
	if err != nil {
		log.Printf("hub: relay encode %s event: %v", evt.Type, err)
		return 0
	}
	row := models.HubEvent{
		Scope:   scope.String(),
		Payload: string(payload),
		Origin:  r.origin,
	}
	if err := r.db.Create(&row).Error; err != nil {
		log.Printf("hub: relay record event for %s: %v", row.Scope, err)
	}
	return r.local.deliver(scope, dataFrame(payload))
}

// Run polls for remote broadcasts until ctx is cancelled. Only events
// recorded after Run starts are delivered.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.start(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Poll(ctx); err != nil {
				log.Printf("hub: relay poll: %v", err)
			}
		}
	}
}

// start moves the cursor past every row already recorded, so only later
// broadcasts are delivered.
func (r *Relay) start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest models.HubEvent
	if err := r.db.WithContext(ctx).Order("id DESC").Limit(1).Find(&latest).Error; err != nil {
		return fmt.Errorf("hub: relay start: %w", err)
	}
	var recent []models.HubEvent
	cutoff := time.Now().Add(-r.lookback)
	if err := r.db.WithContext(ctx).Select("id", "created_at").
		Where("created_at >= ?", cutoff).Find(&recent).Error; err != nil {
		return fmt.Errorf("hub: relay start: %w", err)
	}
	r.lastID = latest.ID
	for _, row := range recent {
		r.seen[row.ID] = row.CreatedAt
	}
	return nil
}

// Poll delivers remote events recorded since the last poll and returns how
// many were processed. Rows below the cursor that committed late are picked
// up while they are inside the lookback window.
func (r *Relay) Poll(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	gdb := r.db.WithContext(ctx)
	cutoff := time.Now().Add(-r.lookback)

	var rows []models.HubEvent
	if r.lastID > 0 {
		var recent []uint
		if err := gdb.Model(&models.HubEvent{}).
			Where("id <= ? AND created_at >= ?", r.lastID, cutoff).
			Pluck("id", &recent).Error; err != nil {
			return 0, fmt.Errorf("hub: relay rescan: %w", err)
		}
		var late []uint
		for _, id := range recent {
			if _, ok := r.seen[id]; !ok {
				late = append(late, id)
			}
		}
		if len(late) > 0 {
			if err := gdb.Where("id IN ?", late).Order("id ASC").Find(&rows).Error; err != nil {
				return 0, fmt.Errorf("hub: relay fetch late: %w", err)
			}
		}
	}

	var fresh []models.HubEvent
	if err := gdb.Where("id > ?", r.lastID).
		Order("id ASC").Limit(pollBatch).Find(&fresh).Error; err != nil {
		return 0, fmt.Errorf("hub: relay fetch: %w", err)
	}
	rows = append(rows, fresh...)

	for _, row := range rows {
		r.seen[row.ID] = row.CreatedAt
		if row.ID > r.lastID {
			r.lastID = row.ID
		}
		if row.Origin == r.origin {
			continue
		}
		scope, err := ParseKey(row.Scope)
		if err != nil {
			log.Printf("hub: relay event %d: %v", row.ID, err)
			continue
		}
		r.local.deliver(scope, dataFrame([]byte(row.Payload)))
	}

	for id, created := range r.seen {
		if created.Before(cutoff) {
			delete(r.seen, id)
		}
	}
	return len(rows), nil
}

// Prune deletes relayed events older than retention.
func Prune(db *gorm.DB, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	result := db.Where("created_at < ?", cutoff).Delete(&models.HubEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("hub: prune events: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func dataFrame(payload []byte) []byte {
	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, "\n\n"...)
	return frame
}
