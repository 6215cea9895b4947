package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-assistant/internal/models"
	"github.com/noah-isme/sma-adp-assistant/pkg/clock"
	appErrors "github.com/noah-isme/sma-adp-assistant/pkg/errors"
	"github.com/noah-isme/sma-adp-assistant/pkg/export"
	"github.com/noah-isme/sma-adp-assistant/pkg/storage"
)

// CertificateRequest is the input of the certificate collaborator.
type CertificateRequest struct {
	Student      models.StudentDetail
	Kind         string
	IncludePhoto bool
	Preview      bool
	// SourcePath is the uploaded PDF a TRANSFORMAR_PDF request converts.
	SourcePath string
}

// CertificateIssuer renders a certificate and reports where it lives. The
// pipeline never inspects the document itself.
type CertificateIssuer interface {
	Issue(ctx context.Context, req CertificateRequest) (*models.CertificateInfo, error)
}

type certificateRenderer interface {
	Render(doc export.CertificateDocument) ([]byte, error)
}

type downloadSigner interface {
	Generate(certificateID, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (storage.DownloadToken, error)
}

// CertificateOptions configure the default collaborator.
type CertificateOptions struct {
	SchoolName string
	SchoolCCT  string
	// DownloadPrefix is prepended to /certificates/:token in download URLs.
	DownloadPrefix string
	// Uploads holds the PDFs TRANSFORMAR_PDF may read. Source paths are
	// relative to it; nil disables transformations.
	Uploads *storage.LocalStorage
}

// CertificateService renders certificates with gofpdf, stores them locally
// and hands out signed download links.
type CertificateService struct {
	renderer certificateRenderer
	store    *storage.LocalStorage
	signer   downloadSigner
	clock    clock.Clock
	opts     CertificateOptions
	logger   *zap.Logger
}

// NewCertificateService constructs the collaborator.
func NewCertificateService(renderer certificateRenderer, store *storage.LocalStorage, signer downloadSigner, clk clock.Clock, opts CertificateOptions, logger *zap.Logger) *CertificateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.System{}
	}
	if renderer == nil {
		renderer = export.NewCertificateRenderer()
	}
	return &CertificateService{renderer: renderer, store: store, signer: signer, clock: clk, opts: opts, logger: logger}
}

// Issue renders and stores the certificate.
func (s *CertificateService) Issue(ctx context.Context, req CertificateRequest) (*models.CertificateInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := s.document(req)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	doc.Folio = id
	now := s.clock.Now()
	doc.IssuedAt = now

	metadata := map[string]string{
		"folio":        id,
		"escuela":      doc.SchoolName,
		"tipo":         req.Kind,
		"incluir_foto": strconv.FormatBool(req.IncludePhoto),
	}
	if req.SourcePath != "" {
		archived, err := s.archiveSource(id, req.SourcePath)
		if err != nil {
			return nil, err
		}
		metadata["origen"] = archived
	}

	payload, err := s.renderer.Render(doc)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCertificateFailed.Code, appErrors.ErrCertificateFailed.Status, "no se pudo generar la constancia")
	}
	dir := "emitidas"
	if req.Preview {
		dir = "previas"
	}
	name := path.Join(dir, now.Format("2006-01"), id+".pdf")
	rel, err := s.store.Save(name, payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCertificateFailed.Code, appErrors.ErrCertificateFailed.Status, "no se pudo guardar la constancia")
	}

	info := &models.CertificateInfo{
		StudentID:   req.Student.ID,
		StudentName: req.Student.Nombre,
		Kind:        req.Kind,
		Preview:     req.Preview,
		Path:        rel,
		Metadata:    metadata,
		IssuedAt:    now,
	}
	if s.signer != nil {
		token, expires, err := s.signer.Generate(id, rel)
		if err != nil {
			s.logger.Warn("failed to sign certificate link", zap.String("certificate_id", id), zap.Error(err))
		} else {
			info.Token = token
			info.DownloadURL = strings.TrimRight(s.opts.DownloadPrefix, "/") + "/certificates/" + token
			metadata["expira"] = expires.UTC().Format(time.RFC3339)
		}
	}
	s.logger.Info("certificate issued",
		zap.String("certificate_id", id),
		zap.Int64("student_id", req.Student.ID),
		zap.String("kind", req.Kind),
		zap.Bool("preview", req.Preview),
	)
	return info, nil
}

// Open resolves a download token to the stored file.
func (s *CertificateService) Open(token string) (*os.File, storage.DownloadToken, error) {
	if s.signer == nil {
		return nil, storage.DownloadToken{}, appErrors.Clone(appErrors.ErrNotFound, "descargas deshabilitadas")
	}
	parsed, err := s.signer.Parse(token, false)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, parsed, appErrors.Clone(appErrors.ErrNotFound, "el enlace de descarga expiró")
		}
		return nil, parsed, appErrors.Clone(appErrors.ErrNotFound, "enlace de descarga inválido")
	}
	file, err := s.store.Open(parsed.Path)
	if err != nil {
		return nil, parsed, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "constancia no encontrada")
	}
	return file, parsed, nil
}

// Cleanup removes previews older than ttl.
func (s *CertificateService) Cleanup(ttl time.Duration) ([]string, error) {
	return s.store.CleanupOlderThan("previas", ttl)
}

func (s *CertificateService) document(req CertificateRequest) (export.CertificateDocument, error) {
	st := req.Student
	if st.ID == 0 || strings.TrimSpace(st.Nombre) == "" {
		return export.CertificateDocument{}, appErrors.Clone(appErrors.ErrStudentNotFound, "la constancia requiere un alumno identificado")
	}
	switch req.Kind {
	case models.CertificateStudy, models.CertificateGrades, models.CertificateTransfer:
	default:
		return export.CertificateDocument{}, appErrors.Clone(appErrors.ErrCertificateFailed, fmt.Sprintf("tipo de constancia desconocido: %q", req.Kind))
	}
	doc := export.CertificateDocument{
		Kind:        req.Kind,
		SchoolName:  deref(st.Escuela, s.opts.SchoolName),
		CCT:         deref(st.CCT, s.opts.SchoolCCT),
		StudentName: st.Nombre,
		CURP:        st.CURP,
		Matricula:   deref(st.Matricula, ""),
		Grupo:       deref(st.Grupo, ""),
		Turno:       deref(st.Turno, ""),
		Ciclo:       deref(st.CicloEscolar, ""),
		Photo:       req.IncludePhoto,
		Preview:     req.Preview,
	}
	if st.Grado != nil {
		doc.Grado = ordinalGrade(*st.Grado)
	}
	if req.Kind == models.CertificateGrades {
		grades, err := st.Grades()
		if err != nil {
			return doc, appErrors.Wrap(err, appErrors.ErrCertificateFailed.Code, appErrors.ErrCertificateFailed.Status, "las calificaciones registradas no son legibles")
		}
		if len(grades) == 0 {
			return doc, appErrors.Clone(appErrors.ErrCertificateFailed, fmt.Sprintf("%s no tiene calificaciones registradas", st.Nombre))
		}
		for _, g := range grades {
			doc.Grades = append(doc.Grades, export.GradeLine{
				Subject:  g.Nombre,
				I:        formatGrade(g.I),
				II:       formatGrade(g.II),
				III:      formatGrade(g.III),
				Promedio: formatGrade(g.Promedio),
			})
		}
	}
	return doc, nil
}

func (s *CertificateService) archiveSource(id, source string) (string, error) {
	if !strings.EqualFold(filepath.Ext(source), ".pdf") {
		return "", appErrors.Clone(appErrors.ErrCertificateFailed, "el archivo de origen debe ser un PDF")
	}
	name, err := s.uploadName(source)
	if err != nil {
		return "", err
	}
	f, err := s.opts.Uploads.Open(name)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrCertificateFailed.Code, appErrors.ErrCertificateFailed.Status, "no se pudo leer el PDF de origen")
	}
	defer f.Close() //nolint:errcheck
	rel, err := s.store.SaveStream(path.Join("origen", id+".pdf"), f)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrCertificateFailed.Code, appErrors.ErrCertificateFailed.Status, "no se pudo archivar el PDF de origen")
	}
	return rel, nil
}

// uploadName cleans a source path and keeps it inside the upload directory.
func (s *CertificateService) uploadName(source string) (string, error) {
	if s.opts.Uploads == nil {
		return "", appErrors.Clone(appErrors.ErrCertificateFailed, "la transformación de PDF no está habilitada")
	}
	slashed := filepath.ToSlash(strings.TrimSpace(source))
	if filepath.IsAbs(source) || path.IsAbs(slashed) || filepath.VolumeName(source) != "" {
		return "", appErrors.Clone(appErrors.ErrCertificateFailed, "el PDF de origen debe estar en la carpeta de cargas")
	}
	for _, part := range strings.Split(slashed, "/") {
		if part == ".." {
			return "", appErrors.Clone(appErrors.ErrCertificateFailed, "el PDF de origen debe estar en la carpeta de cargas")
		}
	}
	return path.Clean(slashed), nil
}

var gradeOrdinals = map[int]string{1: "primer", 2: "segundo", 3: "tercer", 4: "cuarto", 5: "quinto", 6: "sexto"}

func ordinalGrade(g int) string {
	if word, ok := gradeOrdinals[g]; ok {
		return word
	}
	return strconv.Itoa(g) + "°"
}

func formatGrade(f models.FlexFloat) string {
	if !f.Valid {
		return "-"
	}
	return strconv.FormatFloat(f.Value, 'f', -1, 64)
}

func deref(v *string, fallback string) string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return fallback
	}
	return *v
}
