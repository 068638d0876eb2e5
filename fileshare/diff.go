package fileshare

import "sort"

// Diff produces the ordered action list reconciling three views of a
// repository: scanned (live disk state), local (last synced snapshot),
// and remote (authoritative server listing). It descends into a subtree
// only when the same-named entry exists, and agrees, in all three views;
// otherwise the subtree participates at the current level only through an
// add/remove classification (§4.2).
func Diff(scanned, local *LocalTree, remote *RemoteTree) ([]Action, error) {
	var out []Action
	sMap := scanned.roots
	lMap := local.roots
	rMap := remoteRootMap(remote)
	if err := diffLevel(sMap, lMap, rMap, "", remote, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func remoteRootMap(remote *RemoteTree) map[string]*RemoteItem {
	m := make(map[string]*RemoteItem)
	for _, r := range remote.Roots() {
		m[r.Name().Encoded()] = r
	}
	return m
}

func remoteChildMap(remote *RemoteTree, id uint64) map[string]*RemoteItem {
	m := make(map[string]*RemoteItem)
	for _, r := range remote.ChildrenOf(id) {
		m[r.Name().Encoded()] = r
	}
	return m
}

func sortedNames(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// diffLevel classifies every name present in sMap, lMap, or rMap, in the
// output order §4.2 mandates: (1) names in S sorted, (2) names in R but
// not S, (3) names in L but in neither S nor R.
func diffLevel(sMap, lMap map[string]*LocalItem, rMap map[string]*RemoteItem, pathPrefix string, remote *RemoteTree, out *[]Action) error {
	handled := make(map[string]bool)

	sNames := make([]string, 0, len(sMap))
	for k := range sMap {
		sNames = append(sNames, k)
	}
	sort.Strings(sNames)
	for _, name := range sNames {
		handled[name] = true
		if err := classify(sMap[name], lMap[name], rMap[name], name, pathPrefix, remote, out); err != nil {
			return err
		}
	}

	rOnly := make(map[string]bool, len(rMap))
	for k := range rMap {
		if !handled[k] {
			rOnly[k] = true
		}
	}
	for _, name := range sortedNames(rOnly) {
		handled[name] = true
		if err := classify(nil, lMap[name], rMap[name], name, pathPrefix, remote, out); err != nil {
			return err
		}
	}

	lOnly := make(map[string]bool, len(lMap))
	for k := range lMap {
		if !handled[k] {
			lOnly[k] = true
		}
	}
	for _, name := range sortedNames(lOnly) {
		if err := classify(nil, lMap[name], nil, name, pathPrefix, remote, out); err != nil {
			return err
		}
	}
	return nil
}

func emit(out *[]Action, kind Kind, path string, s, l, r Item) {
	*out = append(*out, Action{Kind: kind, Path: path, Scanned: s, Local: l, Remote: r})
}

// classify decides the action kind for one path given its presence (or
// absence) in each of the three views, exactly per the §4.2 case table.
func classify(s, l *LocalItem, r *RemoteItem, name, pathPrefix string, remote *RemoteTree, out *[]Action) error {
	path := joinRelative(pathPrefix, name)

	switch {
	case s != nil && l != nil && r != nil:
		bothDirs := !s.IsRegularFile() && !r.IsRegularFile()
		if bothDirs || s.Timestamp() == r.Timestamp() {
			return recurseInto(s, l, r, path, remote, out)
		}
		if s.Timestamp() > r.Timestamp() {
			switch {
			case s.Timestamp() == l.Timestamp():
				emit(out, ErrorRemoteDowngraded, path, s, l, r)
			case l.Timestamp() == r.Timestamp():
				emit(out, LocalUpgraded, path, s, l, r)
			case l.Timestamp() > s.Timestamp():
				emit(out, ConflictBothDowngraded, path, s, l, r)
			case l.Timestamp() < r.Timestamp():
				emit(out, ConflictBothUpgraded, path, s, l, r)
			default:
				emit(out, ConflictLocalUpgradedRemoteDowngraded, path, s, l, r)
			}
			return nil
		}
		// s.Timestamp() < r.Timestamp(); s.Timestamp() == r.Timestamp() already recursed above.
		switch {
		case s.Timestamp() == l.Timestamp():
			emit(out, RemoteUpgraded, path, s, l, r)
		case l.Timestamp() == r.Timestamp():
			emit(out, ErrorLocalDowngraded, path, s, l, r)
		case l.Timestamp() < s.Timestamp():
			emit(out, ConflictBothUpgraded, path, s, l, r)
		case l.Timestamp() > r.Timestamp():
			emit(out, ConflictBothDowngraded, path, s, l, r)
		default:
			emit(out, ConflictLocalDowngradedRemoteUpgraded, path, s, l, r)
		}
		return nil

	case s != nil && l == nil && r != nil:
		switch {
		case s.Timestamp() == r.Timestamp():
			emit(out, ResyncLocal, path, s, nil, r)
		case s.Timestamp() > r.Timestamp():
			emit(out, ConflictAddLocalNewer, path, s, nil, r)
		default:
			emit(out, ConflictAddRemoteNewer, path, s, nil, r)
		}
		return nil

	case s != nil && l != nil && r == nil:
		emit(out, RemoteRemoved, path, s, l, nil)
		return nil

	case s != nil && l == nil && r == nil:
		emit(out, LocalAdded, path, s, nil, nil)
		return nil

	case s == nil && l != nil && r != nil:
		emit(out, LocalRemoved, path, nil, l, r)
		return nil

	case s == nil && l == nil && r != nil:
		emit(out, RemoteAdded, path, nil, nil, r)
		return nil

	case s == nil && l != nil && r == nil:
		emit(out, RemovedOnBothSides, path, nil, l, nil)
		return nil

	default:
		panic("fileshare: diff case table is not exhaustive for path " + path)
	}
}

func recurseInto(s, l *LocalItem, r *RemoteItem, path string, remote *RemoteTree, out *[]Action) error {
	sChildren := s.children
	lChildren := l.children
	rChildren := remoteChildMap(remote, r.ID)
	return diffLevel(sChildren, lChildren, rChildren, path, remote, out)
}
