package backendtest

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/Skotchmaster/pos_terminal/internal/models"
)

func (s *Server) shiftRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /shifts/active", s.activeShift)
	mux.HandleFunc("POST /shifts/start", s.startShift)
	mux.HandleFunc("POST /shifts/{id}/end", s.endShift)
	mux.HandleFunc("POST /shifts/day/start", s.day("start"))
	mux.HandleFunc("POST /shifts/day/end", s.day("end"))

	mux.HandleFunc("POST /shifts/swaps", s.createSwap)
	mux.HandleFunc("POST /shifts/swaps/{id}/approve", s.moveSwap(models.SwapApproved))
	mux.HandleFunc("POST /shifts/swaps/{id}/manager-approve", s.moveSwap(models.SwapManagerApproved))
	mux.HandleFunc("POST /shifts/swaps/{id}/reject", s.moveSwap(models.SwapRejected))
	mux.HandleFunc("POST /shifts/swaps/{id}/cancel", s.moveSwap(models.SwapCancelled))
	mux.HandleFunc("GET /shifts/swaps/pending", s.listSwaps(func(sw *models.ShiftSwap, r *http.Request) bool {
		return sw.Status == models.SwapPending && sw.RequestedToUserID == queryInt(r, "userId")
	}))
	mux.HandleFunc("GET /shifts/swaps/user", s.listSwaps(func(sw *models.ShiftSwap, r *http.Request) bool {
		u := queryInt(r, "userId")
		return sw.RequestedByUserID == u || sw.RequestedToUserID == u
	}))
	mux.HandleFunc("GET /shifts/swaps/store", s.listSwaps(func(sw *models.ShiftSwap, r *http.Request) bool {
		return sw.StoreID == queryInt(r, "storeId")
	}))

	mux.HandleFunc("POST /shifts/login", s.recordLogin)
	mux.HandleFunc("POST /shifts/logout", s.recordLogout)
	mux.HandleFunc("GET /shifts/logins/user", s.listLogins(func(l models.SalesPersonLogin, r *http.Request) bool {
		return l.UserID == queryInt(r, "userId")
	}))
	mux.HandleFunc("GET /shifts/logins/store", s.listLogins(func(l models.SalesPersonLogin, r *http.Request) bool {
		return l.StoreID == queryInt(r, "storeId")
	}))

	mux.HandleFunc("POST /shifts/associates/authenticate", s.authenticateAssociate)
	mux.HandleFunc("POST /shifts/associates/{id}/verify-passcode", s.verifyPasscode)
}

func (s *Server) activeShift(w http.ResponseWriter, r *http.Request) {
	storeID, userID := queryInt(r, "storeId"), queryInt(r, "userId")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sh := range s.shifts {
		if sh.StoreID == storeID && sh.UserID == userID && sh.Status == models.ShiftActive {
			ok(w, sh)
			return
		}
	}
	reject(w, http.StatusNotFound, "No active shift")
}

func (s *Server) startShift(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StoreID            int64            `json:"storeId"`
		StartingCashAmount *decimal.Decimal `json:"startingCashAmount"`
		Notes              string           `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.StoreID <= 0 {
		reject(w, http.StatusBadRequest, "storeId is required")
		return
	}
	userID := queryInt(r, "userId")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sh := range s.shifts {
		if sh.StoreID == body.StoreID && sh.UserID == userID && sh.Status == models.ShiftActive {
			reject(w, http.StatusConflict, "User already has an active shift")
			return
		}
	}
	started := "2024-05-01T08:00:00Z"
	sh := &models.Shift{
		ID:                 s.id(),
		StoreID:            body.StoreID,
		UserID:             userID,
		ShiftDate:          "2024-05-01",
		StartedAt:          &started,
		StartingCashAmount: body.StartingCashAmount,
		Status:             models.ShiftActive,
		Notes:              body.Notes,
	}
	s.shifts[sh.ID] = sh
	ok(w, sh)
}

// endShift leaves cashDifference unset so the terminal reconciles it.
func (s *Server) endShift(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EndingCashAmount   *decimal.Decimal `json:"endingCashAmount"`
		ExpectedCashAmount *decimal.Decimal `json:"expectedCashAmount"`
		Notes              string           `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.EndingCashAmount == nil {
		reject(w, http.StatusBadRequest, "endingCashAmount is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, found := s.shifts[pathInt(r, "id")]
	if !found || sh.Status != models.ShiftActive {
		reject(w, http.StatusConflict, "Shift is not active")
		return
	}
	ended := "2024-05-01T16:00:00Z"
	by := queryInt(r, "endedByUserId")
	sh.Status = models.ShiftCompleted
	sh.EndedAt = &ended
	sh.EndedBy = &by
	sh.EndingCashAmount = body.EndingCashAmount
	sh.ExpectedCashAmount = body.ExpectedCashAmount
	ok(w, sh)
}

func (s *Server) day(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			StoreID int64 `json:"storeId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.days = append(s.days, kind)
		s.mu.Unlock()
		ok(w, nil)
	}
}

func (s *Server) createSwap(w http.ResponseWriter, r *http.Request) {
	var sw models.ShiftSwap
	if err := json.NewDecoder(r.Body).Decode(&sw); err != nil || sw.OriginalShiftID <= 0 {
		reject(w, http.StatusBadRequest, "originalShiftId is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sw.ID = s.id()
	sw.RequestedByUserID = queryInt(r, "requestedByUserId")
	if sh, found := s.shifts[sw.OriginalShiftID]; found {
		sw.StoreID = sh.StoreID
	}
	sw.Status = models.SwapPending
	s.swaps[sw.ID] = &sw
	ok(w, sw)
}

func (s *Server) moveSwap(to models.SwapStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		sw, found := s.swaps[pathInt(r, "id")]
		if !found {
			reject(w, http.StatusNotFound, "Swap not found")
			return
		}
		if !sw.Status.CanTransition(to) {
			reject(w, http.StatusConflict, "Swap cannot move from "+string(sw.Status)+" to "+string(to))
			return
		}
		sw.Status = to
		switch to {
		case models.SwapManagerApproved:
			by := queryInt(r, "managerId")
			sw.ApprovedBy = &by
			sw.ManagerNotes = r.URL.Query().Get("managerNotes")
		case models.SwapRejected:
			by := queryInt(r, "rejectedByUserId")
			sw.RejectedBy = &by
			sw.Reason = r.URL.Query().Get("reason")
		}
		ok(w, sw)
	}
}

func (s *Server) listSwaps(match func(*models.ShiftSwap, *http.Request) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		out := []models.ShiftSwap{}
		for _, sw := range s.swaps {
			if match(sw, r) {
				out = append(out, *sw)
			}
		}
		ok(w, out)
	}
}

func (s *Server) recordLogin(w http.ResponseWriter, r *http.Request) {
	var l models.SalesPersonLogin
	if err := json.NewDecoder(r.Body).Decode(&l); err != nil || l.StoreID <= 0 {
		reject(w, http.StatusBadRequest, "storeId is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l.ID = s.id()
	l.UserID = queryInt(r, "userId")
	l.LoginTime = "2024-05-01T09:00:00Z"
	if l.LoginType == "" {
		l.LoginType = models.LoginShiftStart
	}
	s.logins = append(s.logins, l)
	ok(w, l)
}

func (s *Server) recordLogout(w http.ResponseWriter, r *http.Request) {
	userID := queryInt(r, "userId")
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.logins) - 1; i >= 0; i-- {
		if s.logins[i].UserID == userID && s.logins[i].LogoutTime == nil {
			out := "2024-05-01T12:00:00Z"
			s.logins[i].LogoutTime = &out
			ok(w, s.logins[i])
			return
		}
	}
	reject(w, http.StatusNotFound, "No open login")
}

func (s *Server) listLogins(match func(models.SalesPersonLogin, *http.Request) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		out := []models.SalesPersonLogin{}
		for _, l := range s.logins {
			if match(l, r) {
				out = append(out, l)
			}
		}
		ok(w, out)
	}
}

func (s *Server) authenticateAssociate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StoreID         int64  `json:"storeId"`
		AssociateNumber string `json:"associateNumber"`
		Passcode        string `json:"passcode"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	defer s.mu.Unlock()
	a, found := s.associates[body.AssociateNumber]
	if !found || a.Passcode != body.Passcode || a.StoreID != body.StoreID {
		reject(w, http.StatusBadRequest, "Invalid associate number or passcode")
		return
	}
	ok(w, models.AssociateAuth{UserID: a.ID, AssociateNumber: a.Number, Name: a.Name, ShiftID: a.ShiftID})
}

func (s *Server) verifyPasscode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Passcode string `json:"passcode"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	id := pathInt(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.associates {
		if a.ID == id && a.Passcode == body.Passcode {
			ok(w, map[string]bool{"valid": true})
			return
		}
	}
	reject(w, http.StatusBadRequest, "Invalid PIN")
}
