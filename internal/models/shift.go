package models

import "time"

type ShiftStatus string

const (
	ShiftPending   ShiftStatus = "PENDING"
	ShiftActive    ShiftStatus = "ACTIVE"
	ShiftCompleted ShiftStatus = "COMPLETED"
	ShiftCancelled ShiftStatus = "CANCELLED"
)

var shiftTransitions = map[ShiftStatus][]ShiftStatus{
	ShiftPending: {ShiftActive, ShiftCancelled},
	ShiftActive:  {ShiftCompleted, ShiftCancelled},
}

func (s ShiftStatus) CanTransition(to ShiftStatus) bool {
	for _, next := range shiftTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type Shift struct {
	ID                 int64       `json:"id"`
	StoreID            int64       `json:"storeId"`
	UserID             int64       `json:"userId"`
	UserName           string      `json:"userName,omitempty"`
	ShiftDate          string      `json:"shiftDate"`
	StartedAt          *string     `json:"startedAt,omitempty"`
	EndedAt            *string     `json:"endedAt,omitempty"`
	ExpectedStartTime  *string     `json:"expectedStartTime,omitempty"`
	ExpectedEndTime    *string     `json:"expectedEndTime,omitempty"`
	StartingCashAmount *Money      `json:"startingCashAmount,omitempty"`
	EndingCashAmount   *Money      `json:"endingCashAmount,omitempty"`
	ExpectedCashAmount *Money      `json:"expectedCashAmount,omitempty"`
	CashDifference     *Money      `json:"cashDifference,omitempty"`
	Status             ShiftStatus `json:"status"`
	Notes              string      `json:"notes,omitempty"`
	EndedBy            *int64      `json:"endedBy,omitempty"`
	CreatedAt          string      `json:"createdAt,omitempty"`
}

// Reconcile fills CashDifference from the ending and expected cash counts
// when the backend did not report it. The figure is advisory.
func (s *Shift) Reconcile() {
	if s.CashDifference != nil || s.EndingCashAmount == nil || s.ExpectedCashAmount == nil {
		return
	}
	diff := s.EndingCashAmount.Sub(*s.ExpectedCashAmount)
	s.CashDifference = &diff
}

type SwapStatus string

const (
	SwapPending         SwapStatus = "PENDING"
	SwapApproved        SwapStatus = "APPROVED"
	SwapManagerApproved SwapStatus = "MANAGER_APPROVED"
	SwapRejected        SwapStatus = "REJECTED"
	SwapCancelled       SwapStatus = "CANCELLED"
)

// Peer approval comes first, then the manager. Rejection and cancellation
// are terminal at either gate.
var swapTransitions = map[SwapStatus][]SwapStatus{
	SwapPending:  {SwapApproved, SwapRejected, SwapCancelled},
	SwapApproved: {SwapManagerApproved, SwapRejected, SwapCancelled},
}

func (s SwapStatus) CanTransition(to SwapStatus) bool {
	for _, next := range swapTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s SwapStatus) Terminal() bool {
	return len(swapTransitions[s]) == 0
}

type ShiftSwap struct {
	ID                int64      `json:"id"`
	StoreID           int64      `json:"storeId"`
	OriginalShiftID   int64      `json:"originalShiftId"`
	RequestedByUserID int64      `json:"requestedByUserId"`
	RequestedToUserID int64      `json:"requestedToUserId"`
	RequestedByName   string     `json:"requestedByName,omitempty"`
	RequestedToName   string     `json:"requestedToName,omitempty"`
	OriginalShiftDate string     `json:"originalShiftDate"`
	SwapShiftDate     string     `json:"swapShiftDate"`
	Status            SwapStatus `json:"status"`
	Reason            string     `json:"reason,omitempty"`
	ManagerNotes      string     `json:"managerNotes,omitempty"`
	ApprovedBy        *int64     `json:"approvedBy,omitempty"`
	RejectedBy        *int64     `json:"rejectedBy,omitempty"`
	ApprovedAt        *string    `json:"approvedAt,omitempty"`
	RejectedAt        *string    `json:"rejectedAt,omitempty"`
	CreatedAt         string     `json:"createdAt,omitempty"`
}

type LoginType string

const (
	LoginShiftStart  LoginType = "SHIFT_START"
	LoginBreakReturn LoginType = "BREAK_RETURN"
	LoginShiftEnd    LoginType = "SHIFT_END"
	LoginDayEnd      LoginType = "DAY_END"
)

type SalesPersonLogin struct {
	ID         int64     `json:"id"`
	StoreID    int64     `json:"storeId"`
	UserID     int64     `json:"userId"`
	UserName   string    `json:"userName,omitempty"`
	ShiftID    *int64    `json:"shiftId,omitempty"`
	LoginTime  string    `json:"loginTime"`
	LogoutTime *string   `json:"logoutTime,omitempty"`
	LoginType  LoginType `json:"loginType"`
	DeviceInfo string    `json:"deviceInfo,omitempty"`
	IPAddress  string    `json:"ipAddress,omitempty"`
	Location   string    `json:"location,omitempty"`
	CreatedAt  string    `json:"createdAt,omitempty"`
}

// SignedInAssociate lives only in memory for as long as the associate stays
// signed in at the terminal.
type SignedInAssociate struct {
	ID              int64     `json:"id"`
	AssociateNumber string    `json:"associateNumber"`
	Name            string    `json:"name"`
	SignInTime      time.Time `json:"signInTime"`
	ShiftID         *int64    `json:"shiftId,omitempty"`
}

// AssociateAuth is the backend's answer to a passcode authentication.
type AssociateAuth struct {
	UserID          int64  `json:"userId"`
	AssociateNumber string `json:"associateNumber"`
	Name            string `json:"name"`
	ShiftID         *int64 `json:"shiftId,omitempty"`
}
