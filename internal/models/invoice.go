package models

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts stay JSON numbers on the wire.
	decimal.MarshalJSONWithoutQuotes = true
}

// InvoiceImage is the metadata record for one uploaded invoice image or PDF.
// It is stored in Firestore (collection FIRESTORE_COLLECTION) or in the
// invoice_images table in Postgres.
type InvoiceImage struct {
	ID              string             `firestore:"-" json:"id"`
	UserID          string             `firestore:"userId" json:"userId"`
	ProjectID       string             `firestore:"projectId" json:"projectId"`
	FileName        string             `firestore:"fileName,omitempty" json:"fileName,omitempty"`
	Bucket          string             `firestore:"bucket" json:"bucket"`
	StoragePath     string             `firestore:"storagePath" json:"storagePath"`
	ContentType     string             `firestore:"contentType,omitempty" json:"contentType,omitempty"`
	SizeBytes       int64              `firestore:"sizeBytes,omitempty" json:"sizeBytes,omitempty"`
	Status          InvoiceImageStatus `firestore:"status" json:"status"`
	ErrorMessage    string             `firestore:"errorMessage,omitempty" json:"errorMessage,omitempty"`
	OCR             *OCRResult         `firestore:"ocr,omitempty" json:"ocr,omitempty"`
	Analysis        *InvoiceAnalysis   `firestore:"analysis,omitempty" json:"analysis,omitempty"`
	CreatedAt       time.Time          `firestore:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time          `firestore:"updatedAt" json:"updatedAt"`
	StatusChangedAt time.Time          `firestore:"statusChangedAt" json:"statusChangedAt"`
}

// IsPDF reports whether the stored object is a PDF document rather than a photo.
func (img *InvoiceImage) IsPDF() bool {
	return img.ContentType == "application/pdf"
}

// OCRText returns the recognised text, or "" when OCR has not succeeded yet.
func (img *InvoiceImage) OCRText() string {
	if img.OCR == nil {
		return ""
	}
	return img.OCR.Text
}

// OCRResult is the shaped output of Vision text detection.
type OCRResult struct {
	Text        string    `firestore:"text" json:"text"`
	Language    string    `firestore:"language,omitempty" json:"language,omitempty"`
	PageCount   int       `firestore:"pageCount,omitempty" json:"pageCount,omitempty"`
	BlockCount  int       `firestore:"blockCount,omitempty" json:"blockCount,omitempty"`
	CompletedAt time.Time `firestore:"completedAt" json:"completedAt"`
}

// InvoiceAnalysis holds the fields Gemini extracted from the OCR text, after
// normalisation. Amounts are exact decimals rounded to two places; Firestore
// keeps them as strings (see store.firestoreAnalysis).
type InvoiceAnalysis struct {
	TotalAmount   *decimal.Decimal `firestore:"-" json:"totalAmount,omitempty"`
	TaxAmount     *decimal.Decimal `firestore:"-" json:"taxAmount,omitempty"`
	Currency      string           `firestore:"currency,omitempty" json:"currency,omitempty"`
	InvoiceDate   string           `firestore:"invoiceDate,omitempty" json:"invoiceDate,omitempty"`
	Merchant      string           `firestore:"merchant,omitempty" json:"merchant,omitempty"`
	InvoiceNumber string           `firestore:"invoiceNumber,omitempty" json:"invoiceNumber,omitempty"`
	Category      string           `firestore:"category,omitempty" json:"category,omitempty"`
	Model         string           `firestore:"model,omitempty" json:"model,omitempty"`
	RawResponse   string           `firestore:"rawResponse,omitempty" json:"rawResponse,omitempty"`
	AnalyzedAt    time.Time        `firestore:"analyzedAt" json:"analyzedAt"`
}

// StatusPatch carries the fields written together with a status change.
// ErrorMessage always replaces the stored message, so an empty value clears it.
// A non-zero IfStatusChangedAt makes the change conditional on the record not
// having moved since it was read.
type StatusPatch struct {
	ErrorMessage      string
	OCR               *OCRResult
	Analysis          *InvoiceAnalysis
	IfStatusChangedAt time.Time
}
