package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Signatures used to recognise image files.
var (
	// qcow2Magic is "QFI" followed by 0xfb at offset 0.
	qcow2Magic = []byte{0x51, 0x46, 0x49, 0xfb}

	// vhdxSignature opens the VHDX file type identifier at offset 0.
	vhdxSignature = []byte("vhdxfile")

	// vhdCookie opens the 512 byte VHD footer. Fixed VHDs carry it only
	// at the end of the file; dynamic and differencing VHDs also keep a
	// copy at offset 0.
	vhdCookie = []byte("conectix")

	// isoSignature is the standard identifier of the first ISO 9660
	// volume descriptor at offset 0x8001.
	isoSignature = []byte("CD001")

	// mbrSignature ends the first 512 byte sector of MBR and GPT
	// (protective MBR) disks.
	mbrSignature = []byte{0x55, 0xaa}
)

const (
	vhdFooterSize   = 512
	isoSignatureOff = 0x8001
	mbrSignatureOff = 510
)

// DetectImageFormat detects the disk image format of a file by its
// signatures.
//
// Recognised: VHDX ("vhdxfile" at 0), VHD ("conectix" at 0 or in the last
// 512 bytes), QCOW2 ("QFI\xfb" at 0), ISO 9660 ("CD001" at 0x8001) and
// bootable RAW (0x55aa at 510). Anything else is rejected, so a blank or
// arbitrary data file is never taken for a raw disk.
func DetectImageFormat(filePath string) (VolumeFormat, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat file: %w", err)
	}

	return detectFormat(f, st.Size())
}

func detectFormat(r io.ReaderAt, size int64) (VolumeFormat, error) {
	if size < int64(len(qcow2Magic)) {
		return "", fmt.Errorf("file too small to be valid image (%d bytes)", size)
	}

	head := make([]byte, 8)
	n, err := r.ReadAt(head, 0)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read header: %w", err)
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, vhdxSignature):
		return VolumeFormatVHDX, nil
	case bytes.HasPrefix(head, vhdCookie):
		return VolumeFormatVHD, nil
	case bytes.HasPrefix(head, qcow2Magic):
		return VolumeFormatQCOW2, nil
	}

	if size >= vhdFooterSize && hasAt(r, size-vhdFooterSize, vhdCookie) {
		return VolumeFormatVHD, nil
	}
	if hasAt(r, isoSignatureOff, isoSignature) {
		return VolumeFormatISO, nil
	}
	if size < mbrSignatureOff+int64(len(mbrSignature)) {
		return "", fmt.Errorf("file too small for boot sector (%d < 512 bytes)", size)
	}
	if hasAt(r, mbrSignatureOff, mbrSignature) {
		return VolumeFormatRaw, nil
	}

	return "", fmt.Errorf("unsupported or invalid image: no vhdx, vhd, qcow2 or iso signature and missing boot sector signature (0x55aa at offset 510)")
}

func hasAt(r io.ReaderAt, off int64, want []byte) bool {
	got := make([]byte, len(want))
	if _, err := r.ReadAt(got, off); err != nil {
		return false
	}
	return bytes.Equal(got, want)
}
