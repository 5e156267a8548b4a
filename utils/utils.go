package utils

import (
	//nolint:gosec,G115
	"crypto/md5"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/datazip-inc/olake-scaling/utils/typeutils"
	"github.com/goccy/go-json"
	"github.com/oklog/ulid"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

var (
	ulidMutex = sync.Mutex{}
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// IsValidSubcommand checks if the passed subcommand is supported by the parent command
func IsValidSubcommand(available []*cobra.Command, sub string) bool {
	for _, s := range available {
		if sub == s.Use || sub == s.CalledAs() {
			return true
		}
	}
	return false
}

func ExistInArray[T ~string | int | int8 | int16 | int32 | int64 | float32 | float64](set []T, value T) bool {
	_, found := ArrayContains(set, func(elem T) bool {
		return elem == value
	})

	return found
}

func ArrayContains[T any](set []T, match func(elem T) bool) (int, bool) {
	for idx, elem := range set {
		if match(elem) {
			return idx, true
		}
	}

	return -1, false
}

// returns cond ? a ; b
func Ternary(cond bool, a, b any) any {
	if cond {
		return a
	}
	return b
}

func CheckIfFilesExists(files ...string) error {
	for _, file := range files {
		if _, err := os.Stat(file); os.IsNotExist(err) {
			return fmt.Errorf("%s does not exist: %s", file, err)
		}
	}

	return nil
}

// UnmarshalFile reads a json or yaml file into dest, yaml is converted to json first
func UnmarshalFile(file string, dest any) error {
	if err := CheckIfFilesExists(file); err != nil {
		return err
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("file not found : %s", err)
	}

	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml":
		data, err = yaml.YAMLToJSON(data)
		if err != nil {
			return fmt.Errorf("failed to convert yaml file[%s]: %s", file, err)
		}
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal file[%s]: %s", file, err)
	}

	return nil
}

func ULID() string {
	return genULID(time.Now())
}

func genULID(t time.Time) string {
	ulidMutex.Lock()
	defer ulidMutex.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// GetKeysHash returns md5 hashsum of concatenated map values (sort keys before)
func GetKeysHash(m map[string]any, keys ...string) string {
	if len(keys) == 0 {
		for k := range m {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var str strings.Builder
	for _, k := range keys {
		str.WriteString(typeutils.ToString(m[k]))
		str.WriteRune('|')
	}
	//nolint:gosec,G115
	return fmt.Sprintf("%x", md5.Sum([]byte(str.String())))
}
