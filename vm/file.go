package vm

// filePage is backed by readBytes bytes of file at offset; the remaining
// zeroBytes of the page are zero-filled and never written back.
type filePage struct {
	file      File
	offset    int64
	readBytes int
	zeroBytes int
}

func newFilePage(aux any) (*filePage, error) {
	seg, ok := aux.(*FileSegment)
	if !ok {
		return nil, NewVMError(ErrCodeInternal, "newFilePage", "aux is not a *FileSegment", nil)
	}
	return &filePage{
		file:      seg.File,
		offset:    seg.Offset,
		readBytes: seg.ReadBytes,
		zeroBytes: seg.ZeroBytes,
	}, nil
}

func (f *filePage) kind() PageType {
	return PageFile
}

func (f *filePage) swapIn(p *Page, kva []byte) error {
	if f.readBytes > 0 {
		if err := p.as.vm.readFile(f.file, f.offset, kva[:f.readBytes]); err != nil {
			return err
		}
	}
	clear(kva[f.readBytes:])
	return nil
}

// swapOut writes back only if the page was modified; the file already holds
// a clean page's content.
func (f *filePage) swapOut(p *Page, kva []byte) error {
	return f.writeBack(p, kva)
}

func (f *filePage) destroy(p *Page, kva []byte) {
	if kva == nil {
		return
	}
	if err := f.writeBack(p, kva); err != nil {
		p.as.vm.logger.Error("file writeback failed on destroy",
			"asid", p.as.id, "va", p.va, "offset", f.offset, "error", err)
	}
}

func (f *filePage) writeBack(p *Page, kva []byte) error {
	pt := p.as.pt
	if !pt.IsDirty(p.va) {
		return nil
	}
	if f.readBytes > 0 {
		if err := p.as.vm.writeFile(f.file, f.offset, kva[:f.readBytes]); err != nil {
			return err
		}
	}
	pt.SetDirty(p.va, false)
	p.as.vm.metrics.RecordFileWriteback()
	return nil
}
