package gateway

import (
	"errors"
	"reflect"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/nao1215/tankwiki/pkg/apperr"
)

// requestValidator はリクエストペイロードを検証する。
// 最初に失敗したフィールドを "<field>_<reason>" 形式の理由として返す。
type requestValidator struct {
	v *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{v: v}
}

// bind はJSONボディを dst にデコードして検証する。
func (rv *requestValidator) bind(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return &apperr.Error{Kind: apperr.KindBadRequest, Reason: "invalid_json", Err: err}
	}
	return rv.check(dst)
}

// check は構造体のvalidateタグを検証する。
func (rv *requestValidator) check(dst any) error {
	err := rv.v.Struct(dst)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &apperr.Error{
			Kind:   apperr.KindBadRequest,
			Reason: snake(fe.Field()) + "_" + tagReason(fe.Tag()),
			Err:    err,
		}
	}
	return apperr.Wrap(apperr.KindBadRequest, err)
}

// tagReason はvalidateタグを理由文字列に変換する。
func tagReason(tag string) string {
	switch tag {
	case "min":
		return "too_short"
	case "max":
		return "too_long"
	case "email", "gt", "gte":
		return "invalid"
	default:
		return tag
	}
}

// snake は camelCase を snake_case に変換する。
func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
