/*
 * Copyright 2025 Olake By Datazip
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package utils

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// use a single instance, it caches struct info
var (
	uni      *ut.UniversalTranslator
	validate *validator.Validate
	trans    ut.Translator

	// table and column names end up quoted inside generated statements
	identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*)?$`)
)

const identifierTag = "identifier"

func translateError(err error) (errs []string) {
	if err == nil {
		return nil
	}
	var validatorErrs validator.ValidationErrors
	if !errors.As(err, &validatorErrs) {
		return []string{err.Error()}
	}
	for _, e := range validatorErrs {
		errs = append(errs, e.Translate(trans))
	}

	return errs
}

// IsIdentifier reports whether name is a plain or schema qualified SQL identifier
func IsIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

func Validate[T any](structure T) error {
	if err := validate.Struct(structure); err != nil {
		return errors.New(strings.Join(translateError(err), "; "))
	}

	return nil
}

func init() {
	en := en.New()
	uni = ut.New(en, en)
	trans, _ = uni.GetTranslator("en")

	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" {
			name = strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		}

		fieldName := fld.Name
		if name == "-" {
			return fieldName
		}

		if name != "" {
			return name
		}

		return fieldName
	})

	err := en_translations.RegisterDefaultTranslations(validate, trans)
	if err != nil {
		panic(err)
	}

	err = validate.RegisterValidation(identifierTag, func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "" || IsIdentifier(fl.Field().String())
	})
	if err != nil {
		panic(err)
	}
	err = validate.RegisterTranslation(identifierTag, trans, func(ut ut.Translator) error {
		return ut.Add(identifierTag, "{0} must be a plain SQL identifier", true)
	}, func(ut ut.Translator, fe validator.FieldError) string {
		t, _ := ut.T(identifierTag, fe.Field())
		return t
	})
	if err != nil {
		panic(err)
	}
}
