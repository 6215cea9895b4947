package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Certificate kinds understood by the renderer.
const (
	KindStudy    = "estudio"
	KindGrades   = "calificaciones"
	KindTransfer = "traslado"
)

var kindTitles = map[string]string{
	KindStudy:    "CONSTANCIA DE ESTUDIOS",
	KindGrades:   "CONSTANCIA DE CALIFICACIONES",
	KindTransfer: "CONSTANCIA DE TRASLADO",
}

var spanishMonths = [...]string{"enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"}

// GradeLine is one subject row printed on a grades certificate.
type GradeLine struct {
	Subject  string
	I        string
	II       string
	III      string
	Promedio string
}

// CertificateDocument is everything printed on a certificate.
type CertificateDocument struct {
	Kind        string
	SchoolName  string
	CCT         string
	StudentName string
	CURP        string
	Matricula   string
	Grado       string
	Grupo       string
	Turno       string
	Ciclo       string
	Grades      []GradeLine
	Photo       bool
	Preview     bool
	IssuedAt    time.Time
	Folio       string
}

// CertificateRenderer renders certificates into PDF bytes with gofpdf.
type CertificateRenderer struct{}

// NewCertificateRenderer constructs a renderer.
func NewCertificateRenderer() *CertificateRenderer {
	return &CertificateRenderer{}
}

// Render creates the certificate PDF.
func (r *CertificateRenderer) Render(doc CertificateDocument) ([]byte, error) {
	title, ok := kindTitles[doc.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown certificate kind %q", doc.Kind)
	}
	if strings.TrimSpace(doc.StudentName) == "" {
		return nil, fmt.Errorf("certificate requires a student name")
	}
	if doc.Kind == KindGrades && len(doc.Grades) == 0 {
		return nil, fmt.Errorf("grades certificate requires grade lines")
	}
	if doc.IssuedAt.IsZero() {
		doc.IssuedAt = time.Now()
	}

	pdf := gofpdf.New("P", "mm", "Letter", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(20, 20, 20)
	pdf.SetTitle(title, true)
	pdf.AddPage()

	if doc.Preview {
		pdf.SetFont("Arial", "B", 48)
		pdf.SetTextColor(220, 220, 220)
		pdf.TransformBegin()
		pdf.TransformRotate(35, 108, 140)
		pdf.Text(40, 160, "VISTA PREVIA")
		pdf.TransformEnd()
		pdf.SetTextColor(0, 0, 0)
	}

	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 7, tr(strings.ToUpper(doc.SchoolName)), "", 1, "C", false, 0, "")
	if doc.CCT != "" {
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 6, "C.C.T. "+doc.CCT, "", 1, "C", false, 0, "")
	}
	pdf.Ln(8)
	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, tr(title), "", 1, "C", false, 0, "")
	pdf.Ln(8)

	if doc.Photo {
		pdf.Rect(160, 60, 30, 38, "D")
		pdf.SetFont("Arial", "", 7)
		pdf.Text(168, 80, "FOTO")
	}

	pdf.SetFont("Arial", "", 11)
	pdf.MultiCell(0, 6, tr(body(doc)), "", "J", false)
	pdf.Ln(6)

	if doc.Kind == KindGrades {
		renderGrades(pdf, tr, doc.Grades)
		pdf.Ln(6)
	}

	pdf.SetFont("Arial", "", 10)
	pdf.MultiCell(0, 6, tr(fmt.Sprintf("Se extiende la presente a petición del interesado el día %s.", longDate(doc.IssuedAt))), "", "L", false)
	pdf.Ln(20)
	pdf.CellFormat(0, 6, "______________________________", "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 6, tr("DIRECCIÓN DE LA ESCUELA"), "", 1, "C", false, 0, "")
	if doc.Folio != "" {
		pdf.SetFont("Arial", "", 7)
		pdf.SetY(-20)
		pdf.CellFormat(0, 5, "Folio: "+doc.Folio, "", 1, "R", false, 0, "")
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render certificate: %w", err)
	}
	return buf.Bytes(), nil
}

func body(doc CertificateDocument) string {
	var b strings.Builder
	fmt.Fprintf(&b, "La dirección de la escuela hace constar que el(la) alumno(a) %s", doc.StudentName)
	if doc.CURP != "" {
		fmt.Fprintf(&b, ", con CURP %s", doc.CURP)
	}
	if doc.Matricula != "" {
		fmt.Fprintf(&b, " y matrícula %s", doc.Matricula)
	}
	switch doc.Kind {
	case KindTransfer:
		b.WriteString(", causa baja de este plantel por traslado")
		if doc.Grado != "" {
			fmt.Fprintf(&b, " habiendo cursado el %s grado", doc.Grado)
		}
	default:
		b.WriteString(", se encuentra inscrito(a)")
		if doc.Grado != "" {
			fmt.Fprintf(&b, " en el %s grado", doc.Grado)
		}
	}
	if doc.Grupo != "" {
		fmt.Fprintf(&b, ", grupo %s", doc.Grupo)
	}
	if doc.Turno != "" {
		fmt.Fprintf(&b, ", turno %s", strings.ToLower(doc.Turno))
	}
	if doc.Ciclo != "" {
		fmt.Fprintf(&b, ", durante el ciclo escolar %s", doc.Ciclo)
	}
	b.WriteString(".")
	if doc.Kind == KindGrades {
		b.WriteString(" Sus calificaciones registradas son las siguientes:")
	}
	return b.String()
}

func renderGrades(pdf *gofpdf.Fpdf, tr func(string) string, lines []GradeLine) {
	headers := []string{"MATERIA", "I", "II", "III", "PROMEDIO"}
	widths := []float64{76, 25, 25, 25, 25}
	pdf.SetFont("Arial", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 8, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, line := range lines {
		cells := []string{tr(line.Subject), line.I, line.II, line.III, line.Promedio}
		for i, v := range cells {
			align := "C"
			if i == 0 {
				align = "L"
			}
			pdf.CellFormat(widths[i], 7, v, "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}
}

func longDate(t time.Time) string {
	return fmt.Sprintf("%d de %s de %d", t.Day(), spanishMonths[t.Month()-1], t.Year())
}
