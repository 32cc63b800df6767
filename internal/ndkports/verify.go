package ndkports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// VerifySpec describes an on-device smoke test of a built port.
type VerifySpec struct {
	Executable string   // path relative to the ABI install dir
	Args       []string // arguments passed on the device
	Mandatory  bool     // a missing device fails the run instead of skipping it
}

// VerifyResult is the outcome for one ABI.
type VerifyResult struct {
	Abi     string
	Passed  bool
	Skipped bool
	Output  string
}

// ErrNoDevice is returned when adb reports no usable device.
var ErrNoDevice = errors.New("no Android device available")

const deviceDir = "/data/local/tmp/ndkports"

// Verifier runs VerifySpecs through adb.
type Verifier struct {
	Adb    string
	Serial string
	Runner Runner
	Log    *logrus.Entry
}

func (v *Verifier) adb(ctx context.Context, args ...string) (string, error) {
	full := args
	if v.Serial != "" {
		full = append([]string{"-s", v.Serial}, args...)
	}
	cmd := exec.Command(v.Adb, full...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := v.Runner.Run(ctx, cmd)
	return out.String(), err
}

// DeviceAbi is the primary ABI of the connected device.
func (v *Verifier) DeviceAbi(ctx context.Context) (string, error) {
	out, err := v.adb(ctx, "shell", "getprop", "ro.product.cpu.abi")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	abi := strings.TrimSpace(out)
	if abi == "" {
		return "", ErrNoDevice
	}
	return abi, nil
}

// Run pushes the install tree of the device's ABI and executes spec. Only
// the matching ABI is tested; a device cannot run foreign ABIs reliably.
func (v *Verifier) Run(ctx context.Context, spec *VerifySpec, installRoot string, built []Abi) (*VerifyResult, error) {
	deviceAbi, err := v.DeviceAbi(ctx)
	if err != nil {
		if spec.Mandatory {
			return nil, err
		}
		v.log().WithError(err).Warn("verification skipped")
		return &VerifyResult{Skipped: true}, nil
	}

	var abi *Abi
	for i := range built {
		if built[i].Name == deviceAbi {
			abi = &built[i]
		}
	}
	if abi == nil {
		if spec.Mandatory {
			return nil, fmt.Errorf("device ABI %s was not built", deviceAbi)
		}
		v.log().WithField("abi", deviceAbi).Warn("device ABI not built, verification skipped")
		return &VerifyResult{Abi: deviceAbi, Skipped: true}, nil
	}

	install := filepath.Join(installRoot, abi.Name)
	exe := path.Join(deviceDir, path.Base(spec.Executable))
	steps := [][]string{
		{"shell", "rm", "-rf", deviceDir},
		{"shell", "mkdir", "-p", deviceDir + "/lib"},
		{"push", filepath.Join(install, spec.Executable), exe},
		{"push", filepath.Join(install, "lib") + "/.", deviceDir + "/lib"},
	}
	for _, args := range steps {
		if out, err := v.adb(ctx, args...); err != nil {
			return nil, fmt.Errorf("adb %s failed: %w\n%s", strings.Join(args, " "), err, out)
		}
	}

	script := fmt.Sprintf("chmod 755 %s && LD_LIBRARY_PATH=%s/lib %s %s",
		exe, deviceDir, exe, strings.Join(spec.Args, " "))
	out, err := v.adb(ctx, "shell", script)
	res := &VerifyResult{Abi: abi.Name, Passed: err == nil, Output: out}
	log := v.log().WithField("abi", abi.Name)
	if err != nil {
		log.WithError(err).Error("verification failed")
		return res, &BuildFailure{Stage: StageVerify, Abi: abi.Name, ExitCode: exitCodeOf(err), Output: out, Err: err}
	}
	log.Info("verification passed")
	return res, nil
}

func (v *Verifier) log() *logrus.Entry {
	if v.Log != nil {
		return v.Log
	}
	return discardLog()
}

func exitCodeOf(err error) int {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.ExitCode
	}
	return -1
}
