package handlers

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"productshot/internal/domain"
	"productshot/internal/job"
	"productshot/internal/upload"
)

// jobView is the wire shape of a job. Output data is canonicalized on the
// way out so clients never see the legacy bare-array form.
type jobView struct {
	ID               string                `json:"id"`
	UserID           string                `json:"userId"`
	Status           domain.JobStatus      `json:"status"`
	Prompt           string                `json:"prompt"`
	PromptType       domain.PromptType     `json:"promptType"`
	PresetID         *string               `json:"presetId,omitempty"`
	InputImages      []string              `json:"inputImages"`
	OutputData       *domain.OutputPayload `json:"outputData"`
	OutputImages     []string              `json:"outputImages"`
	ProductName      string                `json:"productName,omitempty"`
	ProductCategory  string                `json:"productCategory,omitempty"`
	ProductSKU       string                `json:"productSku,omitempty"`
	Phone            *string               `json:"phone,omitempty"`
	NotifyByEmail    bool                  `json:"notifyByEmail"`
	NotificationSent bool                  `json:"notificationSent"`
	ErrorMessage     *string               `json:"errorMessage,omitempty"`
	CreatedAt        time.Time             `json:"createdAt"`
	StartedAt        *time.Time            `json:"startedAt,omitempty"`
	CompletedAt      *time.Time            `json:"completedAt,omitempty"`
}

func toJobView(j *domain.Job) jobView {
	payload, _ := domain.NormalizeOutput(j.OutputData)
	images := j.OutputImages()
	if images == nil {
		images = []string{}
	}
	return jobView{
		ID:               j.ID,
		UserID:           j.UserID,
		Status:           j.Status,
		Prompt:           j.Prompt,
		PromptType:       j.PromptType,
		PresetID:         j.PresetID,
		InputImages:      j.InputImages,
		OutputData:       payload,
		OutputImages:     images,
		ProductName:      j.Product.Name,
		ProductCategory:  j.Product.Category,
		ProductSKU:       j.Product.SKU,
		Phone:            j.Phone,
		NotifyByEmail:    j.NotifyByEmail,
		NotificationSent: j.NotificationSent,
		ErrorMessage:     j.ErrorMessage,
		CreatedAt:        j.CreatedAt,
		StartedAt:        j.StartedAt,
		CompletedAt:      j.CompletedAt,
	}
}

// CreateJob accepts a multipart form: images[] files plus prompt fields,
// stores the uploads, then submits the job for dispatch.
func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)

	if err := r.ParseMultipartForm(int64(upload.MaxFiles) * upload.MaxFileBytes); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	fileHeaders := r.MultipartForm.File["images"]
	files := make([]upload.File, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		if fh.Size > upload.MaxFileBytes {
			a.error(w, http.StatusBadRequest, "bad_request",
				fmt.Sprintf("%s exceeds the 5MB limit", fh.Filename))
			return
		}
		f, err := fh.Open()
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "unreadable upload")
			return
		}
		data, err := io.ReadAll(io.LimitReader(f, upload.MaxFileBytes+1))
		_ = f.Close()
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "unreadable upload")
			return
		}
		files = append(files, upload.File{Name: fh.Filename, Data: data})
	}

	urls, err := a.Uploads.Upload(r.Context(), userID, files)
	if err != nil {
		a.respondError(w, err)
		return
	}

	params := job.CreateParams{
		UserID:        userID,
		UserEmail:     a.currentUserEmail(r),
		Prompt:        r.FormValue("prompt"),
		PromptType:    domain.PromptType(r.FormValue("promptType")),
		Product:       productMetaFromForm(r),
		NotifyByEmail: r.FormValue("notifyByEmail") == "true",
		InputImages:   urls,
	}
	if v := r.FormValue("presetId"); v != "" {
		params.PresetID = &v
	}
	if v := r.FormValue("phone"); v != "" {
		params.Phone = &v
	}

	created, err := a.Jobs.Create(r.Context(), params)
	if err != nil {
		a.respondError(w, err)
		return
	}
	a.json(w, http.StatusCreated, toJobView(created))
}

func productMetaFromForm(r *http.Request) domain.ProductMeta {
	return domain.ProductMeta{
		Name:     r.FormValue("productName"),
		Category: r.FormValue("productCategory"),
		SKU:      r.FormValue("productSku"),
	}
}

func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := a.Jobs.List(r.Context(), a.currentUserID(r))
	if err != nil {
		a.respondError(w, err)
		return
	}
	views := make([]jobView, 0, len(jobs))
	for i := range jobs {
		views = append(views, toJobView(&jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"jobs": views})
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	found, err := a.Jobs.Get(r.Context(), chi.URLParam(r, "id"), a.currentUserID(r))
	if err != nil {
		a.respondError(w, err)
		return
	}
	a.json(w, http.StatusOK, toJobView(found))
}

func (a *App) RetryJob(w http.ResponseWriter, r *http.Request) {
	retried, err := a.Jobs.Retry(r.Context(), chi.URLParam(r, "id"), a.currentUserID(r), a.currentUserEmail(r))
	if err != nil {
		a.respondError(w, err)
		return
	}
	a.json(w, http.StatusOK, toJobView(retried))
}
