package store

import (
	"context"
	"slices"
)

// Static serves fixed demo data. It is used when no database is configured.
type Static struct {
	Info  PatientInfo
	Recs  []MedicalRecord
	Vital []VitalSign
}

func NewStatic() *Static {
	return &Static{
		Info: PatientInfo{
			ID:          "MS-8293-XP",
			FirstName:   "Alex",
			LastName:    "Johnson",
			DateOfBirth: "1990-05-15",
			BloodType:   "O+",
			Gender:      "Male",
			Nationality: "Global Citizen",
		},
		Recs: []MedicalRecord{
			{ID: "1", Date: "2023-10-15", Type: "Lab Report", Title: "Complete Blood Count", Provider: "General Hospital, NYC", Summary: "All parameters within normal range.", Severity: "Normal"},
			{ID: "2", Date: "2023-09-20", Type: "Imaging", Title: "Chest X-Ray", Provider: "Berlin Diagnostics", Summary: "Clear lung fields, no abnormalities noted.", Severity: "Normal"},
			{ID: "3", Date: "2023-08-05", Type: "Vaccination", Title: "COVID-19 Booster", Provider: "Global Health Clinic, Tokyo", Summary: "Pfizer-BioNTech (Comirnaty)", Severity: "Normal"},
		},
		Vital: []VitalSign{
			{Timestamp: "08:00", HeartRate: 72, Systolic: 120, Diastolic: 80, SpO2: 98},
			{Timestamp: "10:00", HeartRate: 75, Systolic: 122, Diastolic: 82, SpO2: 99},
			{Timestamp: "12:00", HeartRate: 80, Systolic: 118, Diastolic: 79, SpO2: 97},
			{Timestamp: "14:00", HeartRate: 74, Systolic: 121, Diastolic: 81, SpO2: 98},
			{Timestamp: "16:00", HeartRate: 71, Systolic: 119, Diastolic: 80, SpO2: 98},
		},
	}
}

func (s *Static) Patient(context.Context) (PatientInfo, error) { return s.Info, nil }

func (s *Static) Records(context.Context) ([]MedicalRecord, error) {
	return slices.Clone(s.Recs), nil
}

func (s *Static) Vitals(context.Context) ([]VitalSign, error) {
	return slices.Clone(s.Vital), nil
}
