package service

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-assistant/internal/models"
	"github.com/noah-isme/sma-adp-assistant/pkg/clock"
	appErrors "github.com/noah-isme/sma-adp-assistant/pkg/errors"
	"github.com/noah-isme/sma-adp-assistant/pkg/export"
)

// exportColumns lead every CSV; other columns follow alphabetically.
var exportColumns = []string{
	models.FieldID, models.FieldNombre, models.FieldCURP, "matricula",
	models.FieldGrado, models.FieldGrupo, models.FieldTurno, "ciclo_escolar",
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ExportResult is a rendered context level.
type ExportResult struct {
	Filename string
	Payload  []byte
	Rows     int
}

// ExportService renders context levels as CSV.
type ExportService struct {
	csv    csvRenderer
	clock  clock.Clock
	logger *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(csv csvRenderer, clk clock.Clock, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &ExportService{csv: csv, clock: clk, logger: logger}
}

// ExportLevel renders the rows of level. Levels without rows cannot be exported.
func (s *ExportService) ExportLevel(sessionID string, level models.ContextLevel) (*ExportResult, error) {
	if len(level.Data) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNoResults, "el nivel de contexto no tiene filas para exportar")
	}
	rows := make([]map[string]interface{}, len(level.Data))
	for i, row := range level.Data {
		rows[i] = row
	}
	payload, err := s.csv.Render(export.NewDataset(rows, exportColumns...))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "no se pudo generar el CSV")
	}
	name := s.buildFilename(sessionID, level)
	s.logger.Info("context level exported", zap.String("session_id", sessionID), zap.String("filename", name), zap.Int("rows", len(rows)))
	return &ExportResult{Filename: name, Payload: payload, Rows: len(rows)}, nil
}

func (s *ExportService) buildFilename(sessionID string, level models.ContextLevel) string {
	at := level.Timestamp
	if at.IsZero() {
		at = s.clock.Now()
	}
	action := strings.ToLower(string(level.Action))
	if action == "" {
		action = "resultados"
	}
	return fmt.Sprintf("%s_%s_%s.csv", action, sanitizeFilename(sessionID), at.UTC().Format("20060102_150405"))
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
