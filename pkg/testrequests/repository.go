package testrequests

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/upstac/platform/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound    = errors.New("test request not found")
	ErrStaleStatus = errors.New("test request status changed concurrently")
)

// Repository persists test requests. Lookups return copies; callers mutate and Save.
type Repository interface {
	Create(ctx context.Context, req *models.TestRequest) error
	FindByID(ctx context.Context, id int64) (*models.TestRequest, error)
	FindByStatus(ctx context.Context, status models.RequestStatus) ([]*models.TestRequest, error)
	FindByTester(ctx context.Context, tester uuid.UUID) ([]*models.TestRequest, error)
	FindByDoctor(ctx context.Context, doctor uuid.UUID) ([]*models.TestRequest, error)
	FindByCreator(ctx context.Context, creator uuid.UUID) ([]*models.TestRequest, error)
	FindOpenByContact(ctx context.Context, email, phone string) ([]*models.TestRequest, error)
	Save(ctx context.Context, req *models.TestRequest) error
	// SaveTransition writes the new status and attachments of req only while the
	// stored status is still from. Otherwise it returns ErrStaleStatus.
	SaveTransition(ctx context.Context, req *models.TestRequest, from models.RequestStatus) error
	AppendFlow(ctx context.Context, flow *models.TestRequestFlow) error
	FlowsFor(ctx context.Context, requestID int64) ([]models.TestRequestFlow, error)
	WithinTx(ctx context.Context, fn func(tx Repository) error) error
}

type GormRepository struct {
	db *gorm.DB
	// inTx is set on the repository handed to WithinTx callbacks.
	inTx bool
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

type testRequestModel struct {
	RequestID    int64              `gorm:"primaryKey;autoIncrement;column:request_id"`
	Name         string             `gorm:"column:name"`
	Gender       string             `gorm:"column:gender"`
	Age          int                `gorm:"column:age"`
	Email        string             `gorm:"column:email;index"`
	PhoneNumber  string             `gorm:"column:phone_number;index"`
	Address      string             `gorm:"column:address"`
	PinCode      int                `gorm:"column:pin_code"`
	CreatedBy    uuid.UUID          `gorm:"column:created_by;type:uuid;index"`
	Created      time.Time          `gorm:"column:created"`
	Status       string             `gorm:"column:status;index"`
	LabResult    *labResultModel    `gorm:"foreignKey:RequestID;references:RequestID"`
	Consultation *consultationModel `gorm:"foreignKey:RequestID;references:RequestID"`
}

func (testRequestModel) TableName() string { return "test_requests" }

type labResultModel struct {
	ID            int64     `gorm:"primaryKey;autoIncrement;column:id"`
	RequestID     int64     `gorm:"column:request_id;uniqueIndex"`
	BloodPressure string    `gorm:"column:blood_pressure"`
	HeartBeat     string    `gorm:"column:heart_beat"`
	OxygenLevel   string    `gorm:"column:oxygen_level"`
	Temperature   string    `gorm:"column:temperature"`
	Comments      string    `gorm:"column:comments"`
	Result        string    `gorm:"column:result"`
	Tester        uuid.UUID `gorm:"column:tester;type:uuid;index"`
	UpdatedOn     time.Time `gorm:"column:updated_on"`
}

func (labResultModel) TableName() string { return "lab_results" }

type consultationModel struct {
	ID         int64     `gorm:"primaryKey;autoIncrement;column:id"`
	RequestID  int64     `gorm:"column:request_id;uniqueIndex"`
	Suggestion string    `gorm:"column:suggestion"`
	Comments   string    `gorm:"column:comments"`
	Doctor     uuid.UUID `gorm:"column:doctor;type:uuid;index"`
	UpdatedOn  time.Time `gorm:"column:updated_on"`
}

func (consultationModel) TableName() string { return "consultations" }

type flowModel struct {
	ID         int64             `gorm:"primaryKey;autoIncrement;column:id"`
	RequestID  int64             `gorm:"column:request_id;index"`
	FromStatus string            `gorm:"column:from_status"`
	ToStatus   string            `gorm:"column:to_status"`
	ChangedBy  uuid.UUID         `gorm:"column:changed_by;type:uuid"`
	HappenedOn time.Time         `gorm:"column:happened_on"`
	Payload    datatypes.JSONMap `gorm:"column:payload"`
}

func (flowModel) TableName() string { return "test_request_flows" }

func (r *GormRepository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&testRequestModel{},
		&labResultModel{},
		&consultationModel{},
		&flowModel{},
	)
}

func (r *GormRepository) Create(ctx context.Context, req *models.TestRequest) error {
	row := toRow(req)
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error; err != nil {
		return fmt.Errorf("create test request: %w", err)
	}
	req.RequestID = row.RequestID
	return r.saveChildren(ctx, r.db, req)
}

func (r *GormRepository) FindByID(ctx context.Context, id int64) (*models.TestRequest, error) {
	var row testRequestModel
	q := r.preloaded(ctx)
	if r.lockRows() {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := q.Where("request_id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find test request %d: %w", id, err)
	}
	return fromRow(row), nil
}

func (r *GormRepository) FindByStatus(ctx context.Context, status models.RequestStatus) ([]*models.TestRequest, error) {
	return r.list(ctx, r.preloaded(ctx).Where("status = ?", string(status)))
}

func (r *GormRepository) FindByTester(ctx context.Context, tester uuid.UUID) ([]*models.TestRequest, error) {
	sub := r.db.Model(&labResultModel{}).Select("request_id").Where("tester = ?", tester)
	return r.list(ctx, r.preloaded(ctx).Where("request_id IN (?)", sub))
}

func (r *GormRepository) FindByDoctor(ctx context.Context, doctor uuid.UUID) ([]*models.TestRequest, error) {
	sub := r.db.Model(&consultationModel{}).Select("request_id").Where("doctor = ?", doctor)
	return r.list(ctx, r.preloaded(ctx).Where("request_id IN (?)", sub))
}

func (r *GormRepository) FindByCreator(ctx context.Context, creator uuid.UUID) ([]*models.TestRequest, error) {
	return r.list(ctx, r.preloaded(ctx).Where("created_by = ?", creator))
}

func (r *GormRepository) FindOpenByContact(ctx context.Context, email, phone string) ([]*models.TestRequest, error) {
	if r.lockRows() {
		if err := r.lockContact(ctx, email, phone); err != nil {
			return nil, err
		}
	}
	q := r.preloaded(ctx).
		Where("status <> ?", string(models.StatusCompleted)).
		Where(r.db.Where("email = ?", email).Or("phone_number = ?", phone))
	return r.list(ctx, q)
}

func (r *GormRepository) Save(ctx context.Context, req *models.TestRequest) error {
	row := toRow(req)
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Save(&row).Error; err != nil {
		return fmt.Errorf("save test request %d: %w", req.RequestID, err)
	}
	return r.saveChildren(ctx, r.db, req)
}

func (r *GormRepository) SaveTransition(ctx context.Context, req *models.TestRequest, from models.RequestStatus) error {
	res := r.db.WithContext(ctx).Model(&testRequestModel{}).
		Where("request_id = ? AND status = ?", req.RequestID, string(from)).
		Update("status", string(req.Status))
	if res.Error != nil {
		return fmt.Errorf("transition test request %d: %w", req.RequestID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return r.saveChildren(ctx, r.db, req)
}

func (r *GormRepository) AppendFlow(ctx context.Context, flow *models.TestRequestFlow) error {
	row := flowModel{
		RequestID:  flow.RequestID,
		FromStatus: string(flow.FromStatus),
		ToStatus:   string(flow.ToStatus),
		ChangedBy:  flow.ChangedBy,
		HappenedOn: flow.HappenedOn,
		Payload:    datatypes.JSONMap(flow.Payload),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append flow for %d: %w", flow.RequestID, err)
	}
	flow.ID = row.ID
	return nil
}

func (r *GormRepository) FlowsFor(ctx context.Context, requestID int64) ([]models.TestRequestFlow, error) {
	var rows []flowModel
	if err := r.db.WithContext(ctx).Where("request_id = ?", requestID).Order("id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list flows for %d: %w", requestID, err)
	}
	flows := make([]models.TestRequestFlow, 0, len(rows))
	for _, row := range rows {
		flows = append(flows, models.TestRequestFlow{
			ID:         row.ID,
			RequestID:  row.RequestID,
			FromStatus: models.RequestStatus(row.FromStatus),
			ToStatus:   models.RequestStatus(row.ToStatus),
			ChangedBy:  row.ChangedBy,
			HappenedOn: row.HappenedOn,
			Payload:    map[string]interface{}(row.Payload),
		})
	}
	return flows, nil
}

func (r *GormRepository) WithinTx(ctx context.Context, fn func(tx Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormRepository{db: tx, inTx: true})
	})
}

// lockRows reports whether reads should take row locks. SQLite locks the
// whole database per transaction and has no FOR UPDATE.
func (r *GormRepository) lockRows() bool {
	return r.inTx && r.db.Dialector.Name() == "postgres"
}

// lockContact serializes intake transactions that share an email or phone
// number until commit. Keys are taken in sorted order.
func (r *GormRepository) lockContact(ctx context.Context, email, phone string) error {
	keys := []string{"email:" + email, "phone:" + phone}
	sort.Strings(keys)
	for _, key := range keys {
		if err := r.db.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error; err != nil {
			return fmt.Errorf("lock contact %s: %w", key, err)
		}
	}
	return nil
}

func (r *GormRepository) preloaded(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Preload("LabResult").Preload("Consultation")
}

func (r *GormRepository) list(ctx context.Context, q *gorm.DB) ([]*models.TestRequest, error) {
	var rows []testRequestModel
	if err := q.Order("request_id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list test requests: %w", err)
	}
	out := make([]*models.TestRequest, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

// saveChildren upserts the lab result and consultation keyed by request_id.
func (r *GormRepository) saveChildren(ctx context.Context, db *gorm.DB, req *models.TestRequest) error {
	upsert := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "request_id"}},
		UpdateAll: true,
	}).Session(&gorm.Session{})
	if lab := req.LabResult; lab != nil {
		row := labResultModel{
			RequestID:     req.RequestID,
			BloodPressure: lab.BloodPressure,
			HeartBeat:     lab.HeartBeat,
			OxygenLevel:   lab.OxygenLevel,
			Temperature:   lab.Temperature,
			Comments:      lab.Comments,
			Result:        string(lab.Result),
			Tester:        lab.Tester,
			UpdatedOn:     lab.UpdatedOn,
		}
		if err := upsert.Create(&row).Error; err != nil {
			return fmt.Errorf("save lab result for %d: %w", req.RequestID, err)
		}
	}
	if c := req.Consultation; c != nil {
		row := consultationModel{
			RequestID:  req.RequestID,
			Suggestion: string(c.Suggestion),
			Comments:   c.Comments,
			Doctor:     c.Doctor,
			UpdatedOn:  c.UpdatedOn,
		}
		if err := upsert.Create(&row).Error; err != nil {
			return fmt.Errorf("save consultation for %d: %w", req.RequestID, err)
		}
	}
	return nil
}

func toRow(req *models.TestRequest) testRequestModel {
	return testRequestModel{
		RequestID:   req.RequestID,
		Name:        req.Name,
		Gender:      string(req.Gender),
		Age:         req.Age,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
		Address:     req.Address,
		PinCode:     req.PinCode,
		CreatedBy:   req.CreatedBy,
		Created:     req.Created,
		Status:      string(req.Status),
	}
}

func fromRow(row testRequestModel) *models.TestRequest {
	req := &models.TestRequest{
		RequestID:   row.RequestID,
		Name:        row.Name,
		Gender:      models.Gender(row.Gender),
		Age:         row.Age,
		Email:       row.Email,
		PhoneNumber: row.PhoneNumber,
		Address:     row.Address,
		PinCode:     row.PinCode,
		CreatedBy:   row.CreatedBy,
		Created:     row.Created,
		Status:      models.RequestStatus(row.Status),
	}
	if lab := row.LabResult; lab != nil {
		req.LabResult = &models.LabResult{
			BloodPressure: lab.BloodPressure,
			HeartBeat:     lab.HeartBeat,
			OxygenLevel:   lab.OxygenLevel,
			Temperature:   lab.Temperature,
			Comments:      lab.Comments,
			Result:        models.TestStatus(lab.Result),
			Tester:        lab.Tester,
			UpdatedOn:     lab.UpdatedOn,
		}
	}
	if c := row.Consultation; c != nil {
		req.Consultation = &models.Consultation{
			Suggestion: models.DoctorSuggestion(c.Suggestion),
			Comments:   c.Comments,
			Doctor:     c.Doctor,
			UpdatedOn:  c.UpdatedOn,
		}
	}
	return req
}
