package store

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"
)

var ErrNotFound = errors.New("store: not found")

// PatientInfo is the identity block shown on the dashboard.
type PatientInfo struct {
	ID          string `json:"medistId"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	DateOfBirth string `json:"dob"`
	BloodType   string `json:"bloodType"`
	Gender      string `json:"gender"`
	Nationality string `json:"nationality"`
}

func (p PatientInfo) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Initials are the avatar letters, e.g. "AJ".
func (p PatientInfo) Initials() string {
	var b strings.Builder
	for _, s := range []string{p.FirstName, p.LastName} {
		if r, _ := utf8.DecodeRuneInString(strings.TrimSpace(s)); r != utf8.RuneError {
			b.WriteString(strings.ToUpper(string(r)))
		}
	}
	return b.String()
}

type MedicalRecord struct {
	ID       string `json:"id"`
	Date     string `json:"date"`
	Type     string `json:"type"` // Lab Report, Prescription, Imaging, Vaccination
	Title    string `json:"title"`
	Provider string `json:"provider"`
	Summary  string `json:"summary"`
	Severity string `json:"severity"` // Normal, Warning, Critical
}

// VitalSign is one reading of the day chart.
type VitalSign struct {
	Timestamp string `json:"timestamp"`
	HeartRate int    `json:"heartRate"`
	Systolic  int    `json:"systolic"`
	Diastolic int    `json:"diastolic"`
	SpO2      int    `json:"spo2"`
}

// Source supplies read-only patient data. Records come newest first,
// vitals in chronological order.
type Source interface {
	Patient(ctx context.Context) (PatientInfo, error)
	Records(ctx context.Context) ([]MedicalRecord, error)
	Vitals(ctx context.Context) ([]VitalSign, error)
}
