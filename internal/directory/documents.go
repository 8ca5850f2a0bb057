package directory

import (
	"context"
	"net/url"
	"slices"
	"strings"

	"github.com/d9705996/perseo/internal/access"
	"github.com/d9705996/perseo/internal/apperr"
	"github.com/d9705996/perseo/internal/audit"
	"github.com/d9705996/perseo/internal/model"
	"github.com/d9705996/perseo/internal/paging"
	"github.com/d9705996/perseo/internal/store"
	"gorm.io/gorm"
)

// DocumentSortable lists the attributes document lists may sort by.
var DocumentSortable = paging.Sortable{"fileName": "file_name", "type": "type", "size": "size"}

// DocumentInput describes an attachment.
type DocumentInput struct {
	Type     model.DocumentType
	URL      string
	FileName string
	MimeType string
	Size     int64
}

// DocumentPatch holds the mutable document fields.
type DocumentPatch struct {
	Type     *model.DocumentType
	FileName *string
	Active   *bool
}

func tenantOfDocument(d *model.Document) string { return d.TenantID }

func validDocumentType(t model.DocumentType) bool {
	return slices.Contains([]model.DocumentType{
		model.DocumentTypeIdentity, model.DocumentTypeAcademic, model.DocumentTypeMedical,
		model.DocumentTypeAdministrative, model.DocumentTypePhoto, model.DocumentTypeOther,
	}, t)
}

const documentTypes = "identity, academic, medical, administrative, photo or other"

func (in DocumentInput) validate() error {
	var fields []apperr.FieldError
	if !validDocumentType(in.Type) {
		fields = append(fields, field("type", "must be "+documentTypes))
	}
	if u, err := url.Parse(in.URL); err != nil || u.Scheme == "" || u.Host == "" {
		fields = append(fields, field("url", "must be an absolute URL"))
	}
	if strings.TrimSpace(in.FileName) == "" {
		fields = append(fields, field("fileName", "required"))
	}
	if strings.TrimSpace(in.MimeType) == "" {
		fields = append(fields, field("mimeType", "required"))
	}
	if in.Size <= 0 {
		fields = append(fields, field("size", "must be positive"))
	}
	if len(fields) > 0 {
		return invalid("invalid_document", "invalid document", fields...)
	}
	return nil
}

// CreateDocument attaches a document to a person.
func (s *Service) CreateDocument(ctx context.Context, p access.Principal, personID string, in DocumentInput) (*model.Document, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var d *model.Document
	err := s.tx(ctx, func(tx *gorm.DB) error {
		person, err := load(tx, EntityPerson, personID, tenantOfPerson, canWrite, p)
		if err != nil {
			return err
		}
		d = &model.Document{
			TenantID: person.TenantID,
			PersonID: person.ID,
			Type:     in.Type,
			URL:      in.URL,
			FileName: strings.TrimSpace(in.FileName),
			MimeType: strings.TrimSpace(in.MimeType),
			Size:     in.Size,
			Active:   true,
		}
		if err := tx.Create(d).Error; err != nil {
			return store.Translate(err, EntityDocument)
		}
		return record(tx, p, d.TenantID, audit.ActionCreate, EntityDocument, d.ID, nil, d)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// GetDocument returns a live document.
func (s *Service) GetDocument(ctx context.Context, p access.Principal, id string) (*model.Document, error) {
	return load(s.db.WithContext(ctx), EntityDocument, id, tenantOfDocument, canRead, p)
}

// ListDocuments returns a page of a person's documents.
func (s *Service) ListDocuments(ctx context.Context, p access.Principal, personID string, pp paging.Params) ([]model.Document, paging.Meta, error) {
	if _, err := s.GetPerson(ctx, p, personID); err != nil {
		return nil, paging.Meta{}, err
	}
	q := s.db.WithContext(ctx).Model(&model.Document{}).Where("person_id = ?", personID)
	var out []model.Document
	meta, err := paging.Find(q, pp, &out)
	if err != nil {
		return nil, paging.Meta{}, apperr.Internal(err)
	}
	return out, meta, nil
}

// UpdateDocument changes the set fields of in.
func (s *Service) UpdateDocument(ctx context.Context, p access.Principal, id string, in DocumentPatch) (*model.Document, error) {
	var out *model.Document
	err := s.tx(ctx, func(tx *gorm.DB) error {
		d, err := load(tx, EntityDocument, id, tenantOfDocument, canWrite, p)
		if err != nil {
			return err
		}
		before := *d
		updates := map[string]any{}
		if in.Type != nil {
			if !validDocumentType(*in.Type) {
				return invalid("invalid_document", "invalid document", field("type", "must be "+documentTypes))
			}
			updates["type"] = *in.Type
		}
		if in.FileName != nil {
			name := strings.TrimSpace(*in.FileName)
			if name == "" {
				return invalid("invalid_document", "invalid document", field("fileName", "required"))
			}
			updates["file_name"] = name
		}
		if in.Active != nil {
			updates["active"] = *in.Active
		}
		out = d
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(d).Updates(updates).Error; err != nil {
			return apperr.Internal(err)
		}
		if err := tx.First(d, "id = ?", id).Error; err != nil {
			return apperr.Internal(err)
		}
		return record(tx, p, d.TenantID, audit.ActionUpdate, EntityDocument, d.ID, before, d)
	})
	return out, err
}

// DeleteDocument tombstones a document.
func (s *Service) DeleteDocument(ctx context.Context, p access.Principal, id string) error {
	return s.tx(ctx, func(tx *gorm.DB) error {
		d, err := load(tx, EntityDocument, id, tenantOfDocument, canWrite, p)
		if err != nil {
			return err
		}
		if err := tx.Delete(d).Error; err != nil {
			return apperr.Internal(err)
		}
		return record(tx, p, d.TenantID, audit.ActionDelete, EntityDocument, d.ID, d, nil)
	})
}
