package controllers

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/pharmalink/pharmalink/internal/pkg/apperr"
	"github.com/pharmalink/pharmalink/internal/pkg/audit"
	"github.com/pharmalink/pharmalink/internal/pkg/entitlements"
	"github.com/pharmalink/pharmalink/internal/pkg/jobqueue"
	"github.com/pharmalink/pharmalink/internal/pkg/usercontext"
)

// SnapshotQueue runs snapshot exports in the background.
type SnapshotQueue interface {
	EnqueueSnapshotExport(ctx context.Context, snapshotID string) error
	GetStats(ctx context.Context) (*jobqueue.Stats, error)
}

// AdminController serves the admin console: revocation, audit trail, snapshots and
// job queue monitoring.
type AdminController struct {
	ledger    *entitlements.Ledger
	recorder  *audit.Recorder
	snapshots *audit.Snapshotter
	queue     SnapshotQueue
}

// NewAdminController creates a new admin controller. queue may be nil, in which
// case snapshots export inline.
func NewAdminController(ledger *entitlements.Ledger, recorder *audit.Recorder, snapshots *audit.Snapshotter, queue SnapshotQueue) *AdminController {
	return &AdminController{ledger: ledger, recorder: recorder, snapshots: snapshots, queue: queue}
}

type snapshotRequest struct {
	Tables []string `json:"tables" validate:"omitempty,max=10,dive,required"`
}

// HandleRevoke returns an account to the free plan.
func (ac *AdminController) HandleRevoke(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	actor := usercontext.GetAccountID(c)
	rec, err := ac.ledger.Revoke(c.UserContext(), id, &actor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(rec)
}

// HandleAccountEntitlement shows the entitlement of any account.
func (ac *AdminController) HandleAccountEntitlement(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	rec, err := ac.ledger.GetStatus(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(rec)
}

// HandleAuditList pages through the audit trail, newest first.
func (ac *AdminController) HandleAuditList(c *fiber.Ctx) error {
	f := audit.Filter{
		EntityTable: c.Query("entity_table"),
		EntityID:    c.Query("entity_id"),
		Limit:       c.QueryInt("limit", 0),
		Offset:      c.QueryInt("offset", 0),
	}
	if v := c.Query("actor_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return respondError(c, apperr.Validation("invalid actor_id"))
		}
		actor := uint(id)
		f.ActorID = &actor
	}
	var err error
	if f.Since, err = parseTimeQuery(c, "since"); err != nil {
		return respondError(c, err)
	}
	if f.Until, err = parseTimeQuery(c, "until"); err != nil {
		return respondError(c, err)
	}

	entries, total, err := ac.recorder.List(c.UserContext(), f)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"items": entries, "total": total})
}

// HandleCreateSnapshot starts a snapshot. With a job queue the export runs in the
// background and the response is 202; otherwise it completes before responding.
func (ac *AdminController) HandleCreateSnapshot(c *fiber.Ctx) error {
	var req snapshotRequest
	if len(c.Body()) > 0 {
		if err := bindJSON(c, &req); err != nil {
			return respondError(c, err)
		}
	}
	actor := usercontext.GetAccountID(c)

	if ac.queue != nil {
		snap, err := ac.snapshots.Start(c.UserContext(), req.Tables, &actor)
		if err != nil {
			return respondError(c, err)
		}
		enqErr := ac.queue.EnqueueSnapshotExport(c.UserContext(), snap.ID)
		if enqErr == nil {
			return c.Status(fiber.StatusAccepted).JSON(snap)
		}
		log.Warnf("[Snapshot] Could not enqueue %s, exporting inline: %v", snap.ID, enqErr)
		snap, err = ac.snapshots.Run(c.UserContext(), snap.ID)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(snap)
	}

	snap, err := ac.snapshots.Snapshot(c.UserContext(), req.Tables, &actor)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(snap)
}

// HandleGetSnapshot returns a snapshot by id.
func (ac *AdminController) HandleGetSnapshot(c *fiber.Ctx) error {
	snap, err := ac.snapshots.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(snap)
}

// HandleListSnapshots lists snapshots, newest first.
func (ac *AdminController) HandleListSnapshots(c *fiber.Ctx) error {
	snaps, err := ac.snapshots.List(c.UserContext(), c.QueryInt("limit", 0), c.QueryInt("offset", 0))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"items": snaps})
}

// HandleJobStats reports the background queue sizes.
func (ac *AdminController) HandleJobStats(c *fiber.Ctx) error {
	if ac.queue == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "unavailable", "message": "job queue is not running"})
	}
	stats, err := ac.queue.GetStats(c.UserContext())
	if err != nil {
		return respondError(c, apperr.Storage("read job stats", err))
	}
	return c.JSON(stats)
}

func parseTimeQuery(c *fiber.Ctx, name string) (time.Time, error) {
	v := c.Query(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, apperr.Validation("%s must be an RFC 3339 timestamp", name)
	}
	return t.UTC(), nil
}
