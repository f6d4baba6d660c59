package vm

import (
	"math"
)

// noSlot marks an anonymous page that is not in swap
const noSlot = math.MaxUint32

type anonPage struct {
	slot uint32
}

func newAnonPage() *anonPage {
	return &anonPage{slot: noSlot}
}

func (a *anonPage) kind() PageType {
	return PageAnon
}

// swapIn restores the page from its slot. A page that was never swapped out
// keeps the zeroed frame. The slot stays allocated until commit.
func (a *anonPage) swapIn(p *Page, kva []byte) error {
	if a.slot == noSlot {
		return nil
	}
	return p.as.vm.swap.Read(a.slot, kva)
}

// commit releases the slot the page was just read from
func (a *anonPage) commit(p *Page) {
	if a.slot == noSlot {
		return
	}
	if err := p.as.vm.swap.FreeSlot(a.slot); err != nil {
		p.as.vm.logger.Error("failed to free swap slot", "slot", a.slot, "error", err)
	}
	a.slot = noSlot
	p.as.vm.metrics.RecordSwapIn()
}

// swapOut persists the frame to a fresh slot. Running out of swap halts the
// kernel: there is nowhere left to put the page.
func (a *anonPage) swapOut(p *Page, kva []byte) error {
	swap := p.as.vm.swap
	slot, err := swap.AllocSlot()
	if err != nil {
		p.as.vm.logger.Error("swap exhausted", "asid", p.as.id, "va", p.va)
		panic(err)
	}

	if err := swap.Write(slot, kva); err != nil {
		if ferr := swap.FreeSlot(slot); ferr != nil {
			p.as.vm.logger.Error("failed to free swap slot", "slot", slot, "error", ferr)
		}
		return err
	}

	a.slot = slot
	p.as.vm.metrics.RecordSwapOut()
	return nil
}

func (a *anonPage) destroy(p *Page, kva []byte) {
	if a.slot == noSlot {
		return
	}
	if err := p.as.vm.swap.FreeSlot(a.slot); err != nil {
		p.as.vm.logger.Error("failed to free swap slot", "slot", a.slot, "error", err)
	}
	a.slot = noSlot
}
