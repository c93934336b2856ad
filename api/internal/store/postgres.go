package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresSource reads one patient's data. Tables:
//
//	patients(medist_id, first_name, last_name, dob, blood_type, gender, nationality)
//	medical_records(id, medist_id, record_date, record_type, title, provider, summary, severity)
//	vital_signs(medist_id, measured_at, heart_rate, systolic, diastolic, spo2)
type PostgresSource struct {
	DB        *sql.DB
	PatientID string
	// VitalsLimit caps the readings returned by Vitals; 0 means 24.
	VitalsLimit int
}

func NewPostgresSource(db *sql.DB, patientID string) *PostgresSource {
	return &PostgresSource{DB: db, PatientID: patientID}
}

func (s *PostgresSource) Patient(ctx context.Context) (PatientInfo, error) {
	const q = `
select medist_id, first_name, last_name, dob,
       coalesce(blood_type,''), coalesce(gender,''), coalesce(nationality,'')
from patients
where medist_id = $1`
	var (
		p   PatientInfo
		dob time.Time
	)
	err := s.DB.QueryRowContext(ctx, q, s.PatientID).Scan(
		&p.ID, &p.FirstName, &p.LastName, &dob, &p.BloodType, &p.Gender, &p.Nationality)
	if errors.Is(err, sql.ErrNoRows) {
		return PatientInfo{}, ErrNotFound
	}
	if err != nil {
		return PatientInfo{}, fmt.Errorf("patient %s: %w", s.PatientID, err)
	}
	p.DateOfBirth = dob.Format(time.DateOnly)
	return p, nil
}

func (s *PostgresSource) Records(ctx context.Context) ([]MedicalRecord, error) {
	const q = `
select id::text, record_date, record_type, title,
       coalesce(provider,''), coalesce(summary,''), coalesce(severity,'')
from medical_records
where medist_id = $1
order by record_date desc, id desc`
	rows, err := s.DB.QueryContext(ctx, q, s.PatientID)
	if err != nil {
		return nil, fmt.Errorf("records: %w", err)
	}
	defer rows.Close()

	out := []MedicalRecord{}
	for rows.Next() {
		var (
			r  MedicalRecord
			ts time.Time
		)
		if err := rows.Scan(&r.ID, &ts, &r.Type, &r.Title, &r.Provider, &r.Summary, &r.Severity); err != nil {
			return nil, fmt.Errorf("records scan: %w", err)
		}
		r.Date = ts.Format(time.DateOnly)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Vitals returns the latest readings, oldest first.
func (s *PostgresSource) Vitals(ctx context.Context) ([]VitalSign, error) {
	limit := s.VitalsLimit
	if limit <= 0 {
		limit = 24
	}
	const q = `
select measured_at, heart_rate, systolic, diastolic, spo2
from vital_signs
where medist_id = $1
order by measured_at desc
limit $2`
	rows, err := s.DB.QueryContext(ctx, q, s.PatientID, limit)
	if err != nil {
		return nil, fmt.Errorf("vitals: %w", err)
	}
	defer rows.Close()

	out := []VitalSign{}
	for rows.Next() {
		var (
			v  VitalSign
			ts time.Time
		)
		if err := rows.Scan(&ts, &v.HeartRate, &v.Systolic, &v.Diastolic, &v.SpO2); err != nil {
			return nil, fmt.Errorf("vitals scan: %w", err)
		}
		v.Timestamp = ts.Format("15:04")
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Ping reports whether the database answers.
func (s *PostgresSource) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}
