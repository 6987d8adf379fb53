package state

// Redacted returns a deep copy of the document with every other role's bio
// and canon notes blanked. Redaction happens only at this serialisation
// boundary; the stored document always carries full profiles.
//
// Spectators and unassigned connections pass an empty viewer role and see no
// bio/canon at all. Pending input text is also withheld from the copy — only
// the set of roles that have submitted is broadcast, via the
// server's state payload.
func (d *Document) Redacted(viewer Role) *Document {
	out := d.Clone()
	for role, p := range out.Profiles {
		if role == viewer {
			continue
		}
		p.Bio = ""
		p.Canon = ""
	}
	for role, pi := range out.Pending {
		pi.Text = ""
		out.Pending[role] = pi
	}
	// Client identity bindings are server bookkeeping and never leave the process.
	out.Bindings = map[string]Role{}
	return out
}
