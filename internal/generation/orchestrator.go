// Package generation 按接收人批量渲染证书，单项失败不会中断整批。
package generation

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"certgen/internal/database"
	"certgen/internal/imageload"
	"certgen/internal/layout"
	"certgen/internal/metrics"
	"certgen/internal/render"
	"certgen/internal/variables"
)

// State 是任务状态机的状态。
type State string

const (
	StateIdle          State = "idle"
	StateLoadingLayout State = "loading-layout"
	StateGenerating    State = "generating"
	StateDone          State = "done"
	StateFailedToStart State = "failed-to-start"
	StateCancelled     State = "cancelled"
)

var (
	ErrNoLayout        = errors.New("template has no saved layout")
	ErrNoBackground    = errors.New("template has no background image")
	ErrDuplicateNumber = errors.New("certificate number already used")
)

// Renderer 合成一面证书。
type Renderer interface {
	Render(ctx context.Context, req render.Request) (*image.RGBA, error)
}

// Uploader 上传字节并返回公开 URL。
type Uploader interface {
	Upload(ctx context.Context, objectKey string, data []byte, contentType string) (string, error)
}

// ObjectDeleter 可由 Uploader 额外实现；证书记录写入失败时用于删除本项已上传的对象。
type ObjectDeleter interface {
	DeleteObject(ctx context.Context, objectKey string) error
}

// TemplateGetter 读取模板记录。
type TemplateGetter interface {
	Get(ctx context.Context, id uint) (*database.Template, error)
}

// LayoutGetter 读取模板布局；尚未保存时返回 (nil, nil)。
type LayoutGetter interface {
	Get(ctx context.Context, templateID uint) (*layout.Config, error)
}

// CertificateRecorder 保存生成结果。
type CertificateRecorder interface {
	Create(ctx context.Context, cert *database.Certificate) error
}

// NumberLookup 可由 Certificates 额外实现；上传前据此拒绝已存在的编号。
type NumberLookup interface {
	FindByNumber(ctx context.Context, no string) (*database.Certificate, error)
}

// FieldDeriver 补齐编号与日期。
type FieldDeriver interface {
	Derive(ctx context.Context, in variables.CertificateData) variables.Derived
}

// Progress 是一次进度通知；Done = Generated + Failed，单调递增。
type Progress struct {
	JobID     string `json:"job_id"`
	State     State  `json:"state"`
	Done      int    `json:"done"`
	Generated int    `json:"generated"`
	Failed    int    `json:"failed"`
	Total     int    `json:"total"`
}

// Failure 描述单个接收人的失败。
type Failure struct {
	Index     int    `json:"index"`
	Recipient string `json:"recipient"`
	Error     string `json:"error"`
}

// Summary 是任务结果。
type Summary struct {
	JobID     string    `json:"job_id"`
	State     State     `json:"state"`
	Generated int       `json:"generated"`
	Failed    int       `json:"failed"`
	Total     int       `json:"total"`
	Failures  []Failure `json:"failures,omitempty"`
}

// String 返回 "generated/total"，例如 "4/5"。
func (s Summary) String() string {
	return fmt.Sprintf("%d/%d", s.Generated, s.Total)
}

// Job 是一次批量生成请求。
type Job struct {
	ID         string
	TemplateID uint
	Source     Source
	OnProgress func(Progress)
}

// Orchestrator 执行批量任务。Concurrency <= 1 时顺序处理。
type Orchestrator struct {
	Templates      TemplateGetter
	Layouts        LayoutGetter
	Images         imageload.Source
	Renderer       Renderer
	Deriver        FieldDeriver
	Uploader       Uploader
	Certificates   CertificateRecorder
	ThumbnailWidth int
	Concurrency    int
	Logger         *slog.Logger
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// prepared 是任务开始时读取的快照，之后对模板或布局的修改不影响本次任务。
type prepared struct {
	template    *database.Template
	layout      *layout.Config
	background  image.Image
	scoreBG     image.Image
	recipients  []Recipient
	scoreFailed error

	claimMu sync.Mutex
	claimed map[string]bool
}

// claim 在本任务内占用一个对象前缀；重复编号的后来者拿不到。
func (p *prepared) claim(base string) bool {
	p.claimMu.Lock()
	defer p.claimMu.Unlock()
	if p.claimed[base] {
		return false
	}
	p.claimed[base] = true
	return true
}

// Run 执行任务并返回汇总。启动阶段失败时状态为 failed-to-start 并返回错误；
// ctx 在两项之间被取消时状态为 cancelled，已完成的结果保留。
func (o *Orchestrator) Run(ctx context.Context, job Job) (Summary, error) {
	log := o.logger().With(slog.String("job_id", job.ID), slog.Int("template_id", int(job.TemplateID)))
	summary := Summary{JobID: job.ID, State: StateIdle}
	report := func(state State, generated, failed, total int) {
		if job.OnProgress != nil {
			job.OnProgress(Progress{JobID: job.ID, State: state, Done: generated + failed, Generated: generated, Failed: failed, Total: total})
		}
	}

	summary.State = StateLoadingLayout
	report(StateLoadingLayout, 0, 0, 0)
	p, err := o.prepare(ctx, job)
	if err != nil {
		summary.State = StateFailedToStart
		metrics.ObserveJob(string(summary.State))
		log.Error("generation failed to start", slog.Any("error", err))
		report(StateFailedToStart, 0, 0, 0)
		return summary, err
	}
	if p.scoreFailed != nil {
		log.Warn("score background unavailable, score faces skipped", slog.Any("error", p.scoreFailed))
	}

	summary.Total = len(p.recipients)
	summary.State = StateGenerating
	report(StateGenerating, 0, 0, summary.Total)

	var mu sync.Mutex
	finish := func(rec Recipient, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			summary.Failed++
			summary.Failures = append(summary.Failures, Failure{Index: rec.Index, Recipient: rec.Label(), Error: err.Error()})
			log.Warn("certificate generation failed",
				slog.Int("index", rec.Index),
				slog.String("recipient", rec.Label()),
				slog.Any("error", err),
			)
		} else {
			summary.Generated++
		}
		report(StateGenerating, summary.Generated, summary.Failed, summary.Total)
	}

	var g errgroup.Group
	g.SetLimit(max(1, o.Concurrency))
	cancelled := false
	for _, rec := range p.recipients {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			start := time.Now()
			err := o.generateOne(ctx, job, p, rec)
			result := "generated"
			if err != nil {
				result = "failed"
			}
			metrics.ObserveCertificate(result, time.Since(start))
			finish(rec, err)
			return nil
		})
	}
	_ = g.Wait()

	summary.State = StateDone
	if cancelled || ctx.Err() != nil {
		summary.State = StateCancelled
	}
	metrics.ObserveJob(string(summary.State))
	report(summary.State, summary.Generated, summary.Failed, summary.Total)
	log.Info("generation finished",
		slog.String("state", string(summary.State)),
		slog.String("result", summary.String()),
		slog.Int("failed", summary.Failed),
	)
	return summary, nil
}

func (o *Orchestrator) prepare(ctx context.Context, job Job) (*prepared, error) {
	tpl, err := o.Templates.Get(ctx, job.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("load template %d: %w", job.TemplateID, err)
	}
	cfg, err := o.Layouts.Get(ctx, job.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("load layout of template %d: %w", job.TemplateID, err)
	}
	if cfg == nil {
		return nil, ErrNoLayout
	}
	if err := cfg.ValidateNamespace(layout.NamespaceCertificate); err != nil {
		return nil, err
	}
	if tpl.ImagePath == "" {
		return nil, ErrNoBackground
	}
	bg, err := o.Images.Load(ctx, tpl.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("load background %s: %w", tpl.ImagePath, err)
	}

	p := &prepared{template: tpl, layout: cfg.Clone(), background: bg, claimed: map[string]bool{}}
	if tpl.IsDual && tpl.ScoreImagePath != "" {
		if p.scoreBG, err = o.Images.Load(ctx, tpl.ScoreImagePath); err != nil {
			p.scoreFailed = err
		}
	}

	if job.Source == nil {
		return nil, errors.New("generation job has no source")
	}
	if p.recipients, err = job.Source.Recipients(ctx); err != nil {
		return nil, fmt.Errorf("load %s recipients: %w", job.Source.Kind(), err)
	}
	return p, nil
}

// generateOne 渲染、上传并记录一位接收人的证书。panic 也按单项失败处理；
// 失败时只删除本项自己上传的对象。
func (o *Orchestrator) generateOne(ctx context.Context, job Job, p *prepared, rec Recipient) (err error) {
	var uploaded []string
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			o.discard(ctx, uploaded)
		}
	}()

	face, err := o.RenderFace(ctx, p.layout, layout.NamespaceCertificate, p.background, rec)
	if err != nil {
		return err
	}

	no := face.Derived.CertificateNo
	base := objectBase(p.template.ID, job.ID, no)
	if !p.claim(base) {
		return fmt.Errorf("%w in this job: %s", ErrDuplicateNumber, no)
	}
	if err := o.checkUnused(ctx, no); err != nil {
		return err
	}

	pngBytes, err := render.EncodePNG(face.Image)
	if err != nil {
		return err
	}
	imageURL, err := o.Uploader.Upload(ctx, base+".png", pngBytes, "image/png")
	if err != nil {
		return fmt.Errorf("upload certificate: %w", err)
	}
	uploaded = append(uploaded, base+".png")
	thumbBytes, err := render.EncodeThumbnail(face.Image, o.ThumbnailWidth)
	if err != nil {
		return err
	}
	thumbURL, err := o.Uploader.Upload(ctx, base+"-thumb.jpg", thumbBytes, "image/jpeg")
	if err != nil {
		return fmt.Errorf("upload thumbnail: %w", err)
	}
	uploaded = append(uploaded, base+"-thumb.jpg")

	cert := &database.Certificate{
		TemplateID:    p.template.ID,
		MemberID:      rec.MemberID,
		JobID:         job.ID,
		CertificateNo: face.Derived.CertificateNo,
		RecipientName: face.Derived.Auto.Name,
		Description:   face.Derived.Auto.Description,
		IssueDate:     face.Derived.IssueDate,
		ExpiredDate:   face.Derived.ExpiredDate,
		ImagePath:     base + ".png",
		ImageURL:      imageURL,
		ThumbnailURL:  thumbURL,
		Data:          anyMap(face.Data),
	}

	if p.template.IsDual && p.scoreBG != nil {
		path, url, err := o.generateScore(ctx, p, rec, face.Derived, base)
		if err != nil {
			o.logger().Warn("score face generation failed",
				slog.String("job_id", job.ID),
				slog.Int("index", rec.Index),
				slog.String("recipient", rec.Label()),
				slog.Any("error", err),
			)
		} else {
			cert.ScoreImagePath, cert.ScoreImageURL = path, url
			uploaded = append(uploaded, path)
		}
	}

	if err := o.Certificates.Create(ctx, cert); err != nil {
		return fmt.Errorf("record certificate: %w", err)
	}
	return nil
}

func (o *Orchestrator) checkUnused(ctx context.Context, no string) error {
	lookup, ok := o.Certificates.(NumberLookup)
	if !ok {
		return nil
	}
	_, err := lookup.FindByNumber(ctx, no)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrDuplicateNumber, no)
	case errors.Is(err, database.ErrCertificateNotFound):
		return nil
	default:
		return fmt.Errorf("check certificate number %s: %w", no, err)
	}
}

// discard 尽力删除失败项已上传的对象；Uploader 不支持删除时跳过。
func (o *Orchestrator) discard(ctx context.Context, keys []string) {
	deleter, ok := o.Uploader.(ObjectDeleter)
	if !ok || len(keys) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		if err := deleter.DeleteObject(ctx, key); err != nil {
			o.logger().Warn("discard uploaded object failed", slog.String("object_key", key), slog.Any("error", err))
		}
	}
}

func (o *Orchestrator) generateScore(ctx context.Context, p *prepared, rec Recipient, derived variables.Derived, base string) (string, string, error) {
	face, err := o.renderWith(ctx, p.layout, layout.NamespaceScore, p.scoreBG, rec, derived)
	if err != nil {
		return "", "", err
	}
	data, err := render.EncodePNG(face.Image)
	if err != nil {
		return "", "", err
	}
	path := base + "-score.png"
	url, err := o.Uploader.Upload(ctx, path, data, "image/png")
	if err != nil {
		return "", "", fmt.Errorf("upload score face: %w", err)
	}
	return path, url, nil
}

// Face 是一面渲染结果及其数据。
type Face struct {
	Image   *image.RGBA
	Derived variables.Derived
	Texts   map[string]variables.Text
	Data    map[string]string
}

// RenderFace 为单个接收人渲染一面；预览接口也走这里。
func (o *Orchestrator) RenderFace(ctx context.Context, cfg *layout.Config, ns layout.Namespace, bg image.Image, rec Recipient) (*Face, error) {
	derived := o.Deriver.Derive(ctx, rec.Certificate)
	return o.renderWith(ctx, cfg, ns, bg, rec, derived)
}

func (o *Orchestrator) renderWith(ctx context.Context, cfg *layout.Config, ns layout.Namespace, bg image.Image, rec Recipient, derived variables.Derived) (*Face, error) {
	src := rec.Sources(derived.Auto)
	texts := variables.ResolveSet(cfg.Layers(ns), src)
	data := src.Data()
	img, err := o.Renderer.Render(ctx, render.Request{
		Layout:        cfg,
		Namespace:     ns,
		Background:    bg,
		Texts:         texts,
		Data:          data,
		CertificateNo: derived.CertificateNo,
	})
	if err != nil {
		return nil, fmt.Errorf("render %s face: %w", ns, err)
	}
	return &Face{Image: img, Derived: derived, Texts: texts, Data: data}, nil
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// objectBase 返回 certificates/<templateID>/<jobID>/<编号>，不安全字符替换为下划线。
// 不同任务的对象互不覆盖。
func objectBase(templateID uint, jobID, certificateNo string) string {
	return fmt.Sprintf("certificates/%d/%s/%s", templateID,
		unsafeKeyChars.ReplaceAllString(jobID, "_"),
		unsafeKeyChars.ReplaceAllString(certificateNo, "_"))
}

func anyMap(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
