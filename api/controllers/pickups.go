package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/medjbersoundous/backend-ramassage-packers/api/middleware"
	"github.com/medjbersoundous/backend-ramassage-packers/api/responses"
	"github.com/medjbersoundous/backend-ramassage-packers/api/validators"
	"github.com/medjbersoundous/backend-ramassage-packers/internal/pickups"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/db/models"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/enums"
	pkgerrors "github.com/medjbersoundous/backend-ramassage-packers/pkg/errors"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/logger"
)

const maxNoteLength = 1000

// PickupService is the subset of pickups.Service the handlers need.
type PickupService interface {
	List(ctx context.Context, actor pickups.Actor, query pickups.ListQuery) ([]models.Pickup, error)
	Get(ctx context.Context, actor pickups.Actor, id string) (*models.Pickup, error)
	Update(ctx context.Context, actor pickups.Actor, id string, input pickups.UpdateInput) (*models.Pickup, error)
	Reassign(ctx context.Context, actor pickups.Actor, id string, collectorID uint) (*models.Pickup, error)
}

type pickupResponse struct {
	ID             string             `json:"id"`
	PartnerID      string             `json:"partnerId"`
	PartnerName    *string            `json:"partnerName"`
	WilayaID       string             `json:"wilayaId"`
	Date           time.Time          `json:"date"`
	Address        string             `json:"address"`
	Phone          string             `json:"phone"`
	SecondaryPhone *string            `json:"secondaryPhone"`
	Province       string             `json:"province"`
	Note           *string            `json:"note"`
	Status         enums.PickupStatus `json:"status"`
	AssignedTo     *uint              `json:"assignedTo"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

func toPickupResponse(p models.Pickup) pickupResponse {
	return pickupResponse{
		ID:             p.ID,
		PartnerID:      p.PartnerID,
		PartnerName:    p.PartnerName,
		WilayaID:       p.WilayaID,
		Date:           p.Date,
		Address:        p.Address,
		Phone:          p.Phone,
		SecondaryPhone: p.SecondaryPhone,
		Province:       p.Province,
		Note:           p.Note,
		Status:         p.Status,
		AssignedTo:     p.AssignedTo,
		UpdatedAt:      p.UpdatedAt,
	}
}

type updatePickupRequest struct {
	Status *string `json:"status" validate:"omitempty,oneof=pending done canceled"`
	Note   *string `json:"note"`
}

type reassignPickupRequest struct {
	CollectorID uint `json:"collectorId" validate:"required,gt=0"`
}

func actorFromRequest(r *http.Request) (pickups.Actor, error) {
	actor := pickups.Actor{
		ID:   middleware.ActorIDFromContext(r.Context()),
		Role: middleware.RoleFromContext(r.Context()),
	}
	if actor.ID == 0 || !actor.Role.IsValid() {
		return pickups.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor context missing")
	}
	return actor, nil
}

func pickupIDParam(r *http.Request) (string, error) {
	id := strings.TrimSpace(chi.URLParam(r, "pickupId"))
	if id == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "pickup id is required")
	}
	return id, nil
}

// ListPickups returns the caller's pickups for one day (today by default).
func ListPickups(svc PickupService, loc *time.Location, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		day, err := validators.ParseQueryDate(r, "date", loc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := validators.ParseQueryStatus(r, "status")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.List(r.Context(), actor, pickups.ListQuery{Day: day, Status: status})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]pickupResponse, 0, len(rows))
		for _, row := range rows {
			out = append(out, toPickupResponse(row))
		}
		responses.WriteSuccess(w, out)
	}
}

func GetPickup(svc PickupService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := pickupIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		pickup, err := svc.Get(r.Context(), actor, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPickupResponse(*pickup))
	}
}

// UpdatePickup changes status and/or note of a pickup.
func UpdatePickup(svc PickupService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := pickupIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req updatePickupRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if req.Status == nil && req.Note == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "status or note is required"))
			return
		}

		input := pickups.UpdateInput{}
		if req.Status != nil {
			status, err := enums.ParsePickupStatus(*req.Status)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			input.Status = &status
		}
		if req.Note != nil {
			note := validators.SanitizeString(*req.Note, maxNoteLength)
			input.Note = &note
		}

		pickup, err := svc.Update(r.Context(), actor, id, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPickupResponse(*pickup))
	}
}

// ReassignPickup moves a pickup to another collector. Admin only.
func ReassignPickup(svc PickupService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := pickupIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req reassignPickupRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		pickup, err := svc.Reassign(r.Context(), actor, id, req.CollectorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPickupResponse(*pickup))
	}
}
