// Package equipment identifies which cycler family produced a data
// directory and enumerates its channel folders.
//
// Two families are supported:
//
//   - PNE: channel folders named like M01Ch003[003], each holding a
//     Restore directory with tab-separated SaveData segment files.
//   - Toyo: purely numeric channel folders holding a CAPACITY.LOG summary
//     and optional six-digit raw sample files.
package equipment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

// Type is the cycler family that produced a data directory.
type Type string

const (
	TypePNE     Type = "PNE"
	TypeToyo    Type = "Toyo"
	TypeUnknown Type = ""
)

var (
	// ErrInvalidPath marks a data path that does not exist, is not a
	// directory, or carries no recognizable equipment signature.
	ErrInvalidPath = errors.New("invalid data path")

	// ErrUnsupported marks an equipment type the loader factory cannot
	// handle. Seeing it means the classifier and the factory disagree.
	ErrUnsupported = errors.New("unsupported equipment type")
)

// pneChannelPattern matches PNE channel folder names such as M01Ch003[003].
var pneChannelPattern = regexp.MustCompile(`^M\d+Ch\d+`)

// CapacityLogName is the fixed name of the Toyo summary log.
const CapacityLogName = "CAPACITY.LOG"

// RestoreDirName is the PNE per-channel segment directory.
const RestoreDirName = "Restore"

// DetectType inspects the directory layout and returns the equipment
// family. The PNE signature is checked first and wins when both are
// present. A readable directory with neither signature yields TypeUnknown
// and a nil error; callers must treat that as not-processable.
func DetectType(dataPath string) (Type, error) {
	info, err := os.Stat(dataPath)
	if err != nil {
		return TypeUnknown, fmt.Errorf("%w: %s", ErrInvalidPath, dataPath)
	}
	if !info.IsDir() {
		return TypeUnknown, fmt.Errorf("%w: not a directory: %s", ErrInvalidPath, dataPath)
	}

	entries, err := os.ReadDir(dataPath)
	if err != nil {
		return TypeUnknown, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	for _, e := range entries {
		if !e.IsDir() || !pneChannelPattern.MatchString(e.Name()) {
			continue
		}
		restore := filepath.Join(dataPath, e.Name(), RestoreDirName)
		if st, err := os.Stat(restore); err == nil && st.IsDir() {
			return TypePNE, nil
		}
	}

	for _, e := range entries {
		if !e.IsDir() || !isAllDigits(e.Name()) {
			continue
		}
		capLog := filepath.Join(dataPath, e.Name(), CapacityLogName)
		if _, err := os.Stat(capLog); err == nil {
			return TypeToyo, nil
		}
	}

	return TypeUnknown, nil
}

// ChannelFolders lists the qualifying channel directories for the given
// family, sorted lexicographically by name. For PNE a channel must contain
// a Restore directory; for Toyo the name just has to be all digits,
// whether CAPACITY.LOG exists is the loader's problem.
func ChannelFolders(dataPath string, equip Type) ([]string, error) {
	entries, err := os.ReadDir(dataPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	var folders []string
	switch equip {
	case TypePNE:
		for _, e := range entries {
			if !e.IsDir() || !pneChannelPattern.MatchString(e.Name()) {
				continue
			}
			restore := filepath.Join(dataPath, e.Name(), RestoreDirName)
			if st, err := os.Stat(restore); err == nil && st.IsDir() {
				folders = append(folders, filepath.Join(dataPath, e.Name()))
			}
		}
	case TypeToyo:
		for _, e := range entries {
			if e.IsDir() && isAllDigits(e.Name()) {
				folders = append(folders, filepath.Join(dataPath, e.Name()))
			}
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, string(equip))
	}

	sort.Slice(folders, func(i, j int) bool {
		return filepath.Base(folders[i]) < filepath.Base(folders[j])
	})
	return folders, nil
}

// ValidatePath confirms that dataPath exists, carries a known equipment
// signature and has at least one channel folder. It is the gate every
// caller passes before loading anything.
func ValidatePath(dataPath string) (Type, error) {
	equip, err := DetectType(dataPath)
	if err != nil {
		return TypeUnknown, err
	}
	if equip == TypeUnknown {
		return TypeUnknown, fmt.Errorf("%w: no recognizable equipment signature in %s", ErrInvalidPath, dataPath)
	}
	folders, err := ChannelFolders(dataPath, equip)
	if err != nil {
		return TypeUnknown, err
	}
	if len(folders) == 0 {
		return TypeUnknown, fmt.Errorf("%w: no channel folders in %s", ErrInvalidPath, dataPath)
	}
	return equip, nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
