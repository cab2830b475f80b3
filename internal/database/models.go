package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Template 表示证书模板：底图以及整体保存的布局文档。
// IsDual 的模板还有一张成绩页底图（ScoreImagePath）。
type Template struct {
	gorm.Model
	Title          string         `gorm:"size:255"`
	ImagePath      string         `gorm:"size:512"`
	ImageWidth     int            `gorm:"default:0"`
	ImageHeight    int            `gorm:"default:0"`
	IsDual         bool           `gorm:"default:false"`
	ScoreImagePath string         `gorm:"size:512"`
	Layout         datatypes.JSON `gorm:"type:jsonb"`
	LayoutSavedAt  *time.Time
}

// Member 是已保存的证书接收人。ScoreData 为成绩页的按图层 id 取值。
type Member struct {
	gorm.Model
	Name         string            `gorm:"size:255;index"`
	Email        string            `gorm:"size:255"`
	Organization string            `gorm:"size:255"`
	Phone        string            `gorm:"size:64"`
	Job          string            `gorm:"size:255"`
	Address      string            `gorm:"size:512"`
	City         string            `gorm:"size:128"`
	ScoreData    datatypes.JSONMap `gorm:"type:jsonb"`
}

// Certificate 记录一张已生成的证书。
type Certificate struct {
	gorm.Model
	TemplateID     uint   `gorm:"index"`
	MemberID       *uint  `gorm:"index"`
	JobID          string `gorm:"size:64;index"`
	CertificateNo  string `gorm:"size:128;uniqueIndex"`
	RecipientName  string `gorm:"size:255"`
	Description    string `gorm:"size:1024"`
	IssueDate      time.Time
	ExpiredDate    time.Time
	ImagePath      string            `gorm:"size:512"`
	ImageURL       string            `gorm:"size:1024"`
	ThumbnailURL   string            `gorm:"size:1024"`
	ScoreImagePath string            `gorm:"size:512"`
	ScoreImageURL  string            `gorm:"size:1024"`
	Data           datatypes.JSONMap `gorm:"type:jsonb"`
}

// Job 状态。
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusDone      = "done"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// GenerationJob 是一次批量生成任务。
type GenerationJob struct {
	ID         string `gorm:"primaryKey;size:64"`
	TemplateID uint   `gorm:"index"`
	Source     string `gorm:"size:32"`
	Status     string `gorm:"size:32;index"`
	Generated  int
	Failed     int
	Total      int
	ErrorCode  int
	Error      string         `gorm:"size:1024"`
	Request    datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt *time.Time
}

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{&Template{}, &Member{}, &Certificate{}, &GenerationJob{}}
}
