package compress

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/pdftools/backend/internal/pdf"
	"github.com/pdftools/backend/internal/validator"
)

func availableMemory() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

// checkMemory refuses work while the host is short on memory. A failing
// probe is logged and ignored.
func (o *Orchestrator) checkMemory() error {
	if o.cfg.MinFreeMemory == 0 || o.memory == nil {
		return nil
	}
	avail, err := o.memory()
	if err != nil {
		o.logger.Debug().Err(err).Msg("Memory probe failed")
		return nil
	}
	if avail < o.cfg.MinFreeMemory {
		return &pdf.Error{
			Kind: pdf.KindResource,
			Op:   "memory check",
			Err:  fmt.Errorf("only %s of memory available", validator.FormatFileSize(int64(avail))),
		}
	}
	return nil
}
