package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"certgen/internal/layout"
)

var (
	ErrTemplateNotFound    = errors.New("template not found")
	ErrCertificateNotFound = errors.New("certificate not found")
	ErrJobNotFound         = errors.New("generation job not found")
)

// TemplateStore 读写模板记录。
type TemplateStore struct {
	db *gorm.DB
}

func NewTemplateStore(db *gorm.DB) *TemplateStore {
	return &TemplateStore{db: db}
}

// Get 按 id 读取模板。
func (s *TemplateStore) Get(ctx context.Context, id uint) (*Template, error) {
	var tpl Template
	if err := s.db.WithContext(ctx).First(&tpl, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("query template %d: %w", id, err)
	}
	return &tpl, nil
}

// Create inserts tpl and fills its ID.
func (s *TemplateStore) Create(ctx context.Context, tpl *Template) error {
	if err := s.db.WithContext(ctx).Create(tpl).Error; err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

// SetImage 更新底图路径与像素尺寸；score 为 true 时更新成绩页底图。
func (s *TemplateStore) SetImage(ctx context.Context, id uint, path string, width, height int, score bool) error {
	updates := map[string]any{"image_path": path, "image_width": width, "image_height": height}
	if score {
		updates = map[string]any{"score_image_path": path, "is_dual": true}
	}
	res := s.db.WithContext(ctx).Model(&Template{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update template %d image: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

// LayoutStore 把布局文档作为一个整体保存在模板的 jsonb 列中。
type LayoutStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewLayoutStore(db *gorm.DB) *LayoutStore {
	return &LayoutStore{db: db, now: time.Now}
}

// Get 返回模板的布局文档；模板存在但尚未保存布局时返回 (nil, nil)。
func (s *LayoutStore) Get(ctx context.Context, templateID uint) (*layout.Config, error) {
	var tpl Template
	err := s.db.WithContext(ctx).Select("id", "layout").First(&tpl, templateID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("query layout of template %d: %w", templateID, err)
	}
	if len(tpl.Layout) == 0 || string(tpl.Layout) == "null" {
		return nil, nil
	}
	cfg, err := layout.Decode(tpl.Layout)
	if err != nil {
		return nil, fmt.Errorf("template %d: %w", templateID, err)
	}
	return cfg, nil
}

// Save 校验必需图层后整体替换布局文档，并记录保存时间。
func (s *LayoutStore) Save(ctx context.Context, templateID uint, cfg *layout.Config) error {
	if cfg == nil {
		return layout.ErrEmptyDocument
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	doc := cfg.Clone()
	savedAt := s.now().UTC()
	doc.LastSavedAt = savedAt
	data, err := layout.Encode(doc)
	if err != nil {
		return err
	}

	res := s.db.WithContext(ctx).Model(&Template{}).Where("id = ?", templateID).Updates(map[string]any{
		"layout":          datatypes.JSON(data),
		"layout_saved_at": savedAt,
	})
	if res.Error != nil {
		return fmt.Errorf("save layout of template %d: %w", templateID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

// MemberStore 读写接收人。
type MemberStore struct {
	db *gorm.DB
}

func NewMemberStore(db *gorm.DB) *MemberStore {
	return &MemberStore{db: db}
}

// List 按 id 顺序返回接收人；ids 为空时返回全部。
func (s *MemberStore) List(ctx context.Context, ids []uint) ([]Member, error) {
	q := s.db.WithContext(ctx).Order("id")
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	var members []Member
	if err := q.Find(&members).Error; err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

// CreateBatch inserts members in batches of 200.
func (s *MemberStore) CreateBatch(ctx context.Context, members []Member) error {
	if len(members) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(members, 200).Error; err != nil {
		return fmt.Errorf("create members: %w", err)
	}
	return nil
}

// CertificateStore 记录生成结果。
type CertificateStore struct {
	db *gorm.DB
}

func NewCertificateStore(db *gorm.DB) *CertificateStore {
	return &CertificateStore{db: db}
}

func (s *CertificateStore) Create(ctx context.Context, cert *Certificate) error {
	if err := s.db.WithContext(ctx).Create(cert).Error; err != nil {
		return fmt.Errorf("create certificate %s: %w", cert.CertificateNo, err)
	}
	return nil
}

func (s *CertificateStore) Get(ctx context.Context, id uint) (*Certificate, error) {
	var cert Certificate
	if err := s.db.WithContext(ctx).First(&cert, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCertificateNotFound
		}
		return nil, fmt.Errorf("query certificate %d: %w", id, err)
	}
	return &cert, nil
}

// FindByNumber 用于 /cek/{no} 校验。
func (s *CertificateStore) FindByNumber(ctx context.Context, no string) (*Certificate, error) {
	var cert Certificate
	if err := s.db.WithContext(ctx).Where("certificate_no = ?", no).First(&cert).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCertificateNotFound
		}
		return nil, fmt.Errorf("query certificate %q: %w", no, err)
	}
	return &cert, nil
}

// ListByJob returns the certificates produced by one job.
func (s *CertificateStore) ListByJob(ctx context.Context, jobID string) ([]Certificate, error) {
	var certs []Certificate
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Order("id").Find(&certs).Error; err != nil {
		return nil, fmt.Errorf("list certificates of job %s: %w", jobID, err)
	}
	return certs, nil
}

// JobStore 读写批量任务状态。
type JobStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db, now: time.Now}
}

func (s *JobStore) Create(ctx context.Context, job *GenerationJob) error {
	if job.Status == "" {
		job.Status = JobStatusQueued
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*GenerationJob, error) {
	var job GenerationJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("query job %s: %w", id, err)
	}
	return &job, nil
}

// MarkRunning 标记任务开始。
func (s *JobStore) MarkRunning(ctx context.Context, id string, total int) error {
	return s.update(ctx, id, map[string]any{"status": JobStatusRunning, "total": total})
}

// Progress 写入当前计数。
func (s *JobStore) Progress(ctx context.Context, id string, generated, failed int) error {
	return s.update(ctx, id, map[string]any{"generated": generated, "failed": failed})
}

// Finish 写入最终状态。
func (s *JobStore) Finish(ctx context.Context, id, status string, generated, failed, total, code int, message string) error {
	finished := s.now().UTC()
	return s.update(ctx, id, map[string]any{
		"status":      status,
		"generated":   generated,
		"failed":      failed,
		"total":       total,
		"error_code":  code,
		"error":       message,
		"finished_at": &finished,
	})
}

func (s *JobStore) update(ctx context.Context, id string, updates map[string]any) error {
	res := s.db.WithContext(ctx).Model(&GenerationJob{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update job %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}
