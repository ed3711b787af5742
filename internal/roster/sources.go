package roster

import (
	"context"
	"fmt"

	"ms-credentials/internal/models"
)

type CredentialReader interface {
	ListByEvents(ctx context.Context, eventIDs []string) ([]models.TicketCredential, error)
}

type AttendanceReader interface {
	AttendanceByEvents(ctx context.Context, eventIDs []string) ([]models.AttendanceRecord, error)
}

type PurchaseReader interface {
	PurchasesByEvents(ctx context.Context, eventIDs []string) ([]models.Purchase, error)
}

type UserReader interface {
	UsersByID(ctx context.Context, ids []string) (map[string]models.User, error)
}

// ---------------- CREDENTIALS ----------------

// CredentialSource yields one row per issued ticket. The snapshot carries
// everything the row needs.
type CredentialSource struct {
	Store CredentialReader
}

func (s *CredentialSource) Name() models.RosterSource { return models.SourceCredential }

func (s *CredentialSource) Fetch(ctx context.Context, eventIDs []string) ([]models.RosterEntry, error) {
	creds, err := s.Store.ListByEvents(ctx, eventIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	entries := make([]models.RosterEntry, 0, len(creds))
	for _, c := range creds {
		purchasedAt := c.Snapshot.PurchaseDate
		if purchasedAt.IsZero() {
			purchasedAt = c.GeneratedAt
		}
		entries = append(entries, models.RosterEntry{
			PurchaseID:   c.PurchaseID,
			CredentialID: c.ID,
			TicketNumber: c.TicketNumber,
			EventID:      c.EventID,
			EventTitle:   c.Snapshot.EventTitle,
			UserID:       c.UserID,
			HolderName:   c.Snapshot.HolderName,
			HolderEmail:  c.Snapshot.HolderEmail,
			TicketType:   c.Snapshot.TicketType,
			Status:       credentialStatus(c.State),
			Source:       models.SourceCredential,
			PurchasedAt:  purchasedAt,
			CheckedInAt:  c.ScannedAt,
			SortTime:     purchasedAt,
		})
	}
	return entries, nil
}

func credentialStatus(s models.CredentialState) models.RosterStatus {
	switch s {
	case models.CredentialUsed:
		return models.RosterCheckedIn
	case models.CredentialCancelled:
		return models.RosterCancelled
	case models.CredentialExpired:
		return models.RosterExpired
	}
	return models.RosterNotCheckedIn
}

// ---------------- ATTENDANCE ----------------

// AttendanceSource yields manually recorded check-ins.
type AttendanceSource struct {
	Records AttendanceReader
	Users   UserReader
}

func (s *AttendanceSource) Name() models.RosterSource { return models.SourceAttendance }

func (s *AttendanceSource) Fetch(ctx context.Context, eventIDs []string) ([]models.RosterEntry, error) {
	records, err := s.Records.AttendanceByEvents(ctx, eventIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to read attendance: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.UserID)
	}
	users, err := s.Users.UsersByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve attendees: %w", err)
	}

	entries := make([]models.RosterEntry, 0, len(records))
	for _, r := range records {
		name, email := r.HolderName, r.HolderEmail
		if u, ok := users[r.UserID]; ok {
			if name == "" {
				name = u.Name
			}
			if email == "" {
				email = u.Email
			}
		}

		e := models.RosterEntry{
			PurchaseID:  r.PurchaseID,
			EventID:     r.EventID,
			UserID:      r.UserID,
			HolderName:  name,
			HolderEmail: email,
			Status:      attendanceStatus(r.Status),
			Source:      models.SourceAttendance,
			SortTime:    r.RecordedAt,
		}
		if r.Status == models.AttendancePresent {
			at := r.RecordedAt
			e.CheckedInAt = &at
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func attendanceStatus(s models.AttendanceStatus) models.RosterStatus {
	switch s {
	case models.AttendancePresent:
		return models.RosterCheckedIn
	case models.AttendanceCancelled:
		return models.RosterCancelled
	}
	return models.RosterAbsent
}

// ---------------- PURCHASES ----------------

// PurchaseSource is the last resort for purchases whose tickets were never issued.
// Pending purchases are not attendees yet and are skipped.
type PurchaseSource struct {
	Purchases PurchaseReader
	Users     UserReader
}

func (s *PurchaseSource) Name() models.RosterSource { return models.SourcePurchase }

func (s *PurchaseSource) Fetch(ctx context.Context, eventIDs []string) ([]models.RosterEntry, error) {
	purchases, err := s.Purchases.PurchasesByEvents(ctx, eventIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to read purchases: %w", err)
	}
	if len(purchases) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(purchases))
	for _, p := range purchases {
		ids = append(ids, p.UserID)
	}
	users, err := s.Users.UsersByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve purchasers: %w", err)
	}

	entries := make([]models.RosterEntry, 0, len(purchases))
	for _, p := range purchases {
		var status models.RosterStatus
		switch p.Status {
		case models.PurchaseCompleted:
			status = models.RosterPendingIssuance
		case models.PurchaseCancelled, models.PurchaseRefunded:
			status = models.RosterCancelled
		default:
			continue
		}
		u := users[p.UserID]
		entries = append(entries, models.RosterEntry{
			PurchaseID:  p.ID,
			EventID:     p.EventID,
			UserID:      p.UserID,
			HolderName:  u.Name,
			HolderEmail: u.Email,
			TicketType:  p.TicketType,
			Status:      status,
			Source:      models.SourcePurchase,
			PurchasedAt: p.CreatedAt,
			SortTime:    p.CreatedAt,
		})
	}
	return entries, nil
}
