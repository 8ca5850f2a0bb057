package directory

import (
	"context"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/d9705996/perseo/internal/access"
	"github.com/d9705996/perseo/internal/apperr"
	"github.com/d9705996/perseo/internal/audit"
	"github.com/d9705996/perseo/internal/model"
	"github.com/d9705996/perseo/internal/paging"
	"github.com/d9705996/perseo/internal/store"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PersonSortable lists the attributes person lists may sort by.
var PersonSortable = paging.Sortable{"firstName": "first_name", "lastName": "last_name", "email": "email"}

// PersonInput holds the fields of a person. On update nil pointers leave
// the stored value.
type PersonInput struct {
	FirstName        *string
	LastName         *string
	Email            *string
	NationalID       *string
	NationalIDType   *model.NationalIDType
	BirthDate        *time.Time
	Gender           *model.Gender
	Phone            *string
	Address          *model.Address
	EmergencyContact *model.EmergencyContact
	Preferences      *model.Preferences
	Tags             []string
}

// PersonFilter narrows ListPersons.
type PersonFilter struct {
	Q   string
	Tag string
}

func tenantOfPerson(p *model.Person) string { return p.TenantID }

func validNationalIDType(t model.NationalIDType) bool {
	return slices.Contains([]model.NationalIDType{model.NationalIDTypeNational, model.NationalIDTypePassport, model.NationalIDTypeOther}, t)
}

func validGender(g model.Gender) bool {
	return slices.Contains([]model.Gender{model.GenderMale, model.GenderFemale, model.GenderOther, model.GenderUndisclosed}, g)
}

// apply copies the set fields of in onto p and validates the result. A
// birth date after today is rejected.
func (in PersonInput) apply(p *model.Person, today time.Time) error {
	if in.FirstName != nil {
		p.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		p.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.Email != nil {
		p.Email = strings.ToLower(strings.TrimSpace(*in.Email))
	}
	if in.NationalID != nil {
		p.NationalID = strings.TrimSpace(*in.NationalID)
	}
	if in.NationalIDType != nil {
		p.NationalIDType = *in.NationalIDType
	}
	if in.BirthDate != nil {
		d := model.Date(*in.BirthDate)
		p.BirthDate = &d
	}
	if in.Gender != nil {
		g := *in.Gender
		p.Gender = &g
	}
	if in.Phone != nil {
		p.Phone = strings.TrimSpace(*in.Phone)
	}
	if in.Address != nil {
		p.Address = datatypes.NewJSONType(*in.Address)
	}
	if in.EmergencyContact != nil {
		p.EmergencyContact = datatypes.NewJSONType(*in.EmergencyContact)
	}
	if in.Preferences != nil {
		p.Preferences = datatypes.NewJSONType(*in.Preferences)
	}
	if in.Tags != nil {
		tags := slices.Clone(in.Tags)
		slices.Sort(tags)
		p.Tags = model.StringSlice(slices.Compact(tags))
	}

	var fields []apperr.FieldError
	if p.FirstName == "" {
		fields = append(fields, field("firstName", "required"))
	}
	if p.LastName == "" {
		fields = append(fields, field("lastName", "required"))
	}
	if _, err := mail.ParseAddress(p.Email); err != nil || p.Email == "" {
		fields = append(fields, field("email", "must be a valid e-mail address"))
	}
	if p.NationalID == "" {
		fields = append(fields, field("nationalId", "required"))
	}
	if !validNationalIDType(p.NationalIDType) {
		fields = append(fields, field("nationalIdType", "must be national_id, passport or other"))
	}
	if p.Gender != nil && !validGender(*p.Gender) {
		fields = append(fields, field("gender", "must be male, female, other or undisclosed"))
	}
	if p.BirthDate != nil && time.Time(*p.BirthDate).After(today) {
		fields = append(fields, field("birthDate", "must not be in the future"))
	}
	if len(fields) > 0 {
		return invalid("invalid_person", "invalid person", fields...)
	}
	return nil
}

// checkUnique reports which unique person field is already used by another
// row. Tombstoned rows still hold their values.
func checkUnique(tx *gorm.DB, p *model.Person) error {
	taken := func(column, value string) (bool, error) {
		var n int64
		q := tx.Unscoped().Model(&model.Person{}).Where(column+" = ?", value)
		if p.ID != "" {
			q = q.Where("id <> ?", p.ID)
		}
		err := q.Count(&n).Error
		return n > 0, err
	}
	if ok, err := taken("email", p.Email); err != nil {
		return apperr.Internal(err)
	} else if ok {
		return apperr.Conflict("email_taken", "email is already registered")
	}
	if ok, err := taken("national_id", p.NationalID); err != nil {
		return apperr.Internal(err)
	} else if ok {
		return apperr.Conflict("national_id_taken", "national id is already registered")
	}
	return nil
}

func personConflict(err error) error {
	if store.IsUniqueViolation(err) {
		return apperr.Conflict("person_exists", "email or national id is already registered")
	}
	return store.Translate(err, EntityPerson)
}

// CreatePerson adds a person to tenantID.
func (s *Service) CreatePerson(ctx context.Context, p access.Principal, tenantID string, in PersonInput) (*model.Person, error) {
	if err := canWrite(p, tenantID); err != nil {
		return nil, err
	}
	person := &model.Person{TenantID: tenantID}
	if err := in.apply(person, s.today()); err != nil {
		return nil, err
	}
	err := s.tx(ctx, func(tx *gorm.DB) error {
		if err := checkUnique(tx, person); err != nil {
			return err
		}
		if err := tx.Create(person).Error; err != nil {
			return personConflict(err)
		}
		return record(tx, p, tenantID, audit.ActionCreate, EntityPerson, person.ID, nil, person)
	})
	if err != nil {
		return nil, err
	}
	return person, nil
}

// GetPerson returns a live person.
func (s *Service) GetPerson(ctx context.Context, p access.Principal, id string) (*model.Person, error) {
	return load(s.db.WithContext(ctx), EntityPerson, id, tenantOfPerson, canRead, p)
}

// ListPersons returns a page of the tenant's persons. Q matches names and
// e-mail case-insensitively.
func (s *Service) ListPersons(ctx context.Context, p access.Principal, tenantID string, f PersonFilter, pp paging.Params) ([]model.Person, paging.Meta, error) {
	if err := canRead(p, tenantID); err != nil {
		return nil, paging.Meta{}, err
	}
	q := s.db.WithContext(ctx).Model(&model.Person{}).Where("tenant_id = ?", tenantID)
	if f.Q != "" {
		like := "%" + strings.ToLower(f.Q) + "%"
		q = q.Where("LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ? OR email LIKE ?", like, like, like)
	}
	if f.Tag != "" {
		q = q.Where("tags LIKE ?", `%"`+f.Tag+`"%`)
	}
	var out []model.Person
	meta, err := paging.Find(q, pp, &out)
	if err != nil {
		return nil, paging.Meta{}, apperr.Internal(err)
	}
	return out, meta, nil
}

// UpdatePerson changes the set fields of in.
func (s *Service) UpdatePerson(ctx context.Context, p access.Principal, id string, in PersonInput) (*model.Person, error) {
	var out *model.Person
	err := s.tx(ctx, func(tx *gorm.DB) error {
		person, err := load(tx, EntityPerson, id, tenantOfPerson, canWrite, p)
		if err != nil {
			return err
		}
		before := *person
		if err := in.apply(person, s.today()); err != nil {
			return err
		}
		if err := checkUnique(tx, person); err != nil {
			return err
		}
		if err := tx.Save(person).Error; err != nil {
			return personConflict(err)
		}
		out = person
		return record(tx, p, person.TenantID, audit.ActionUpdate, EntityPerson, person.ID, before, person)
	})
	return out, err
}

// DeletePerson tombstones a person and their documents and ends their open
// memberships today.
func (s *Service) DeletePerson(ctx context.Context, p access.Principal, id string) error {
	return s.tx(ctx, func(tx *gorm.DB) error {
		person, err := load(tx, EntityPerson, id, tenantOfPerson, canWrite, p)
		if err != nil {
			return err
		}
		if err := endOpen(tx, p, "person_id", id, "person deleted", s.today()); err != nil {
			return err
		}
		var docs []model.Document
		if err := tx.Where("person_id = ?", id).Find(&docs).Error; err != nil {
			return apperr.Internal(err)
		}
		for i := range docs {
			if err := tx.Delete(&docs[i]).Error; err != nil {
				return apperr.Internal(err)
			}
			if err := record(tx, p, docs[i].TenantID, audit.ActionDelete, EntityDocument, docs[i].ID, docs[i], nil); err != nil {
				return err
			}
		}
		if err := tx.Delete(person).Error; err != nil {
			return apperr.Internal(err)
		}
		return record(tx, p, person.TenantID, audit.ActionDelete, EntityPerson, person.ID, person, nil)
	})
}
