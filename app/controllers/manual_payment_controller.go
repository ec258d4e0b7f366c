package controllers

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/pharmalink/pharmalink/app/models"
	"github.com/pharmalink/pharmalink/app/repository"
	"github.com/pharmalink/pharmalink/internal/pkg/apperr"
	"github.com/pharmalink/pharmalink/internal/pkg/evidence"
	"github.com/pharmalink/pharmalink/internal/pkg/manualpay"
	"github.com/pharmalink/pharmalink/internal/pkg/usercontext"
)

// ManualPaymentController handles BaridiMob receipt submissions and their review.
type ManualPaymentController struct {
	payments *manualpay.Service
	receipts *evidence.Store
}

// NewManualPaymentController creates a new manual payment controller
func NewManualPaymentController(payments *manualpay.Service, receipts *evidence.Store) *ManualPaymentController {
	return &ManualPaymentController{payments: payments, receipts: receipts}
}

type submitRequest struct {
	Plan        string `json:"plan" form:"plan" validate:"required"`
	Amount      int64  `json:"amount" form:"amount" validate:"required,gt=0"`
	EvidenceRef string `json:"evidence_ref" form:"evidence_ref" validate:"omitempty,max=500"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

// HandleSubmit records a receipt for review. The receipt is either uploaded as the
// multipart field "receipt" or referenced by evidence_ref.
func (mc *ManualPaymentController) HandleSubmit(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)
	var req submitRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, apperr.Validation("invalid request body: %v", err))
	}
	if err := validateStruct(&req); err != nil {
		return respondError(c, err)
	}

	stored := ""
	if fh, err := c.FormFile("receipt"); err == nil {
		if mc.receipts == nil {
			return respondError(c, apperr.Validation("receipt uploads are not enabled"))
		}
		f, err := fh.Open()
		if err != nil {
			return respondError(c, apperr.Validation("unreadable receipt: %v", err))
		}
		defer f.Close()
		stored, err = mc.receipts.Put(c.UserContext(), uc.AccountID, fh.Filename, f, fh.Size)
		if err != nil {
			return respondError(c, err)
		}
		req.EvidenceRef = stored
	}

	sub, err := mc.payments.Submit(c.UserContext(), manualpay.SubmitInput{
		AccountID:   uc.AccountID,
		Plan:        req.Plan,
		Amount:      req.Amount,
		EvidenceRef: req.EvidenceRef,
	})
	if err != nil {
		if stored != "" {
			if delErr := mc.receipts.Delete(c.UserContext(), stored); delErr != nil {
				log.Warnf("[ManualPay] Could not remove orphaned receipt %s: %v", stored, delErr)
			}
		}
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(sub)
}

// HandleListOwn lists the caller's submissions.
func (mc *ManualPaymentController) HandleListOwn(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)
	f := listFilter(c)
	f.AccountID = uc.AccountID
	return mc.list(c, f)
}

// HandleAdminList lists submissions for the review queue, oldest first.
func (mc *ManualPaymentController) HandleAdminList(c *fiber.Ctx) error {
	f := listFilter(c)
	if v := c.Query("account_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return respondError(c, apperr.Validation("invalid account_id"))
		}
		f.AccountID = uint(id)
	}
	return mc.list(c, f)
}

func (mc *ManualPaymentController) list(c *fiber.Ctx, f repository.ManualPaymentFilter) error {
	subs, total, err := mc.payments.List(c.UserContext(), f)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"items": subs, "total": total})
}

// HandleAdminGet returns one submission.
func (mc *ManualPaymentController) HandleAdminGet(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	sub, err := mc.payments.Get(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(sub)
}

// HandleAdminReceipt streams the receipt attached to a submission. References to
// external URLs are redirected.
func (mc *ManualPaymentController) HandleAdminReceipt(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	sub, err := mc.payments.Get(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	ref := strings.TrimSpace(sub.EvidenceRef)
	if strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://") {
		return c.Redirect(ref, fiber.StatusFound)
	}
	if mc.receipts == nil {
		return respondError(c, apperr.NotFound("receipt of submission %d", id))
	}
	rc, contentType, err := mc.receipts.Open(c.UserContext(), ref)
	if err != nil {
		return respondError(c, err)
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", path.Base(ref)))
	c.Set(fiber.HeaderCacheControl, "private, no-store")
	return c.SendStream(rc)
}

// HandleApprove approves a pending submission and grants its plan.
func (mc *ManualPaymentController) HandleApprove(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	sub, err := mc.payments.Approve(c.UserContext(), id, usercontext.GetAccountID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(sub)
}

// HandleReject rejects a pending submission with a reason.
func (mc *ManualPaymentController) HandleReject(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req rejectRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	sub, err := mc.payments.Reject(c.UserContext(), id, usercontext.GetAccountID(c), req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(sub)
}

func listFilter(c *fiber.Ctx) repository.ManualPaymentFilter {
	return repository.ManualPaymentFilter{
		Status: models.SubmissionStatus(strings.ToLower(strings.TrimSpace(c.Query("status")))),
		Offset: c.QueryInt("offset", 0),
		Limit:  c.QueryInt("limit", 0),
	}
}
