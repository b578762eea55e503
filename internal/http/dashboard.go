package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"smartmeter/internal/billing"
	"smartmeter/internal/model"
	"smartmeter/internal/repository"
)

type monthlyResponse struct {
	Readings []model.Reading `json:"readings"`
	Billing  billingResponse `json:"billing"`
}

type billingResponse struct {
	TotalConsumption string         `json:"totalConsumption"`
	TotalBill        string         `json:"totalBill"`
	Mode             string         `json:"mode"`
	Tiers            []tierResponse `json:"tiers"`
}

type tierResponse struct {
	Tier  int      `json:"tier"`
	Limit *float64 `json:"limit"`
	Rate  float64  `json:"rate"`
	Units string   `json:"units"`
	Cost  string   `json:"cost"`
}

func (s *Server) handleLatestReadings(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user.IsAdmin() {
		readings, err := s.store.LatestReadingPerDevice(r.Context())
		if err != nil {
			s.serverError(w, r, err, "Failed to fetch latest reading.")
			return
		}
		writeJSON(w, http.StatusOK, readings)
		return
	}

	readings := make([]model.Reading, 0, len(user.AssignedDevices))
	for _, deviceIP := range user.AssignedDevices {
		reading, ok, err := s.latestReading(r.Context(), deviceIP)
		if err != nil {
			s.serverError(w, r, err, "Failed to fetch latest reading.")
			return
		}
		if ok {
			readings = append(readings, reading)
		}
	}
	writeJSON(w, http.StatusOK, readings)
}

// latestReading prefers the cache and falls back to the store on a miss or cache error.
func (s *Server) latestReading(ctx context.Context, deviceIP string) (model.Reading, bool, error) {
	if s.latest != nil {
		reading, ok, err := s.latest.Get(ctx, deviceIP)
		if err != nil {
			s.logger.Warn("latest cache lookup failed", zap.String("device_ip", deviceIP), zap.Error(err))
		} else if ok {
			return reading, true, nil
		}
	}
	reading, err := s.store.LatestReading(ctx, deviceIP)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Reading{}, false, nil
	}
	if err != nil {
		return model.Reading{}, false, err
	}
	return reading, true, nil
}

func (s *Server) handleMonthly(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	deviceIP := chi.URLParam(r, "deviceIp")
	if deviceIP == "" {
		writeError(w, http.StatusBadRequest, "missing_device", "Device address is required.")
		return
	}
	if !user.CanView(deviceIP) {
		writeError(w, http.StatusForbidden, "device_not_assigned", "Device is not assigned to this account.")
		return
	}

	from, to := billing.MonthWindow(s.now())
	readings, err := s.store.ReadingsBetween(r.Context(), deviceIP, from, to)
	if err != nil {
		s.serverError(w, r, err, "Failed to fetch monthly data for "+deviceIP)
		return
	}
	bill := s.billing.Calculate(readings)
	writeJSON(w, http.StatusOK, monthlyResponse{
		Readings: readings,
		Billing:  toBillingResponse(bill, s.billing.Mode()),
	})
}

func toBillingResponse(bill billing.Bill, mode billing.Mode) billingResponse {
	tiers := make([]tierResponse, 0, len(bill.Tiers))
	for _, tier := range bill.Tiers {
		var limit *float64
		if !tier.Slab.Unbounded() {
			value := tier.Slab.Limit
			limit = &value
		}
		tiers = append(tiers, tierResponse{
			Tier:  tier.Tier,
			Limit: limit,
			Rate:  tier.Slab.Rate,
			Units: tier.Units.StringFixed(2),
			Cost:  tier.Cost.StringFixed(2),
		})
	}
	return billingResponse{
		TotalConsumption: bill.TotalConsumption.StringFixed(2),
		TotalBill:        bill.TotalBill.StringFixed(2),
		Mode:             string(mode),
		Tiers:            tiers,
	}
}
