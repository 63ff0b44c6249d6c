package command

// Tools holds the absolute paths of every external program farbot spawns.
type Tools struct {
	Make     string `yaml:"make" validate:"required"`
	CVS      string `yaml:"cvs" validate:"required"`
	Chroot   string `yaml:"chroot" validate:"required"`
	MDConfig string `yaml:"mdconfig" validate:"required"`
	Mount    string `yaml:"mount" validate:"required"`
	Umount   string `yaml:"umount" validate:"required"`
	Tar      string `yaml:"tar" validate:"required"`
	Chflags  string `yaml:"chflags" validate:"required"`
	Portsnap string `yaml:"portsnap" validate:"required"`
}

// DefaultTools returns the stock FreeBSD locations.
func DefaultTools() Tools {
	return Tools{
		Make:     "/usr/bin/make",
		CVS:      "/usr/bin/cvs",
		Chroot:   "/usr/sbin/chroot",
		MDConfig: "/sbin/mdconfig",
		Mount:    "/sbin/mount",
		Umount:   "/sbin/umount",
		Tar:      "/usr/bin/tar",
		Chflags:  "/bin/chflags",
		Portsnap: "/usr/sbin/portsnap",
	}
}

// WithDefaults fills every empty path from DefaultTools.
func (t Tools) WithDefaults() Tools {
	d := DefaultTools()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&t.Make, d.Make)
	fill(&t.CVS, d.CVS)
	fill(&t.Chroot, d.Chroot)
	fill(&t.MDConfig, d.MDConfig)
	fill(&t.Mount, d.Mount)
	fill(&t.Umount, d.Umount)
	fill(&t.Tar, d.Tar)
	fill(&t.Chflags, d.Chflags)
	fill(&t.Portsnap, d.Portsnap)
	return t
}

// Named returns the tool paths keyed by tool name, for verification and logging.
func (t Tools) Named() map[string]string {
	return map[string]string{
		"make":     t.Make,
		"cvs":      t.CVS,
		"chroot":   t.Chroot,
		"mdconfig": t.MDConfig,
		"mount":    t.Mount,
		"umount":   t.Umount,
		"tar":      t.Tar,
		"chflags":  t.Chflags,
		"portsnap": t.Portsnap,
	}
}
